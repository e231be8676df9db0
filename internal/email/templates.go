package email

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// Plain-text bodies for subscription lifecycle notices. Kept as text
// rather than HTML so they render everywhere and stay easy to diff.

const subscriptionStartedText = `Hi,

Your {{.AppName}} Pro subscription is now active.
{{- if .Trial}}

Your free trial runs until {{.PeriodEnd}}. You won't be charged before then, and you can cancel anytime from your account settings.
{{- else}}

Your current billing period ends on {{.PeriodEnd}}.
{{- end}}

Thanks for subscribing,
The {{.AppName}} Team
`

const paymentFailedText = `Hi,

We couldn't process the latest payment for your {{.AppName}} Pro subscription.

We'll retry the charge automatically over the next few days. To avoid losing access, please update your payment method at {{.BillingURL}}.

The {{.AppName}} Team
`

const subscriptionCanceledText = `Hi,

Your {{.AppName}} Pro subscription has been canceled.
{{- if .PeriodEnd}}

You keep Pro access until {{.PeriodEnd}}. After that your account moves to the free plan. Your data stays intact.
{{- else}}

Your account is now on the free plan. Your data stays intact.
{{- end}}

We'd love to have you back anytime.
The {{.AppName}} Team
`

const accountDeletedText = `Hi,

Your {{.AppName}} account has been deleted as requested. Any active subscription was canceled and you will not be charged again.

If this wasn't you, contact us immediately.

The {{.AppName}} Team
`

var noticeTemplates = func() *template.Template {
	t := template.Must(template.New("subscription_started").Parse(subscriptionStartedText))
	template.Must(t.New("payment_failed").Parse(paymentFailedText))
	template.Must(t.New("subscription_canceled").Parse(subscriptionCanceledText))
	template.Must(t.New("account_deleted").Parse(accountDeletedText))
	return t
}()

// noticeData holds the variables shared by all lifecycle templates.
type noticeData struct {
	AppName    string
	BillingURL string
	Trial      bool
	PeriodEnd  string
}

// renderNotice executes a named lifecycle template.
func renderNotice(name string, data noticeData) (string, error) {
	var buf bytes.Buffer
	if err := noticeTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// formatPeriodEnd renders a period end date for email bodies.
// Returns "" for the zero time so templates can branch on it.
func formatPeriodEnd(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("January 2, 2006")
}
