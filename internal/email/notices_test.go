package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures sent emails for assertions.
type recordingSender struct {
	sent []*Email
	err  error
}

func (r *recordingSender) Send(ctx context.Context, email *Email) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, email)
	return "msg-1", nil
}

func newTestNotifier(sender Sender) Notifier {
	return NewNotifier(sender, NotifierConfig{
		AppName:    "Marketing Buddy",
		From:       "noreply@marketingbuddy.local",
		BillingURL: "https://app.marketingbuddy.local/billing",
	}, nil)
}

func TestSubscriptionStartedNotice(t *testing.T) {
	t.Run("with trial", func(t *testing.T) {
		sender := &recordingSender{}
		n := newTestNotifier(sender)

		periodEnd := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
		require.NoError(t, n.SubscriptionStarted(context.Background(), "user@example.com", true, periodEnd))

		require.Len(t, sender.sent, 1)
		msg := sender.sent[0]
		assert.Equal(t, []string{"user@example.com"}, msg.To)
		assert.Equal(t, "Welcome to Marketing Buddy Pro", msg.Subject)
		assert.Contains(t, msg.TextBody, "free trial runs until September 15, 2026")
	})

	t.Run("without trial", func(t *testing.T) {
		sender := &recordingSender{}
		n := newTestNotifier(sender)

		periodEnd := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
		require.NoError(t, n.SubscriptionStarted(context.Background(), "user@example.com", false, periodEnd))

		require.Len(t, sender.sent, 1)
		assert.Contains(t, sender.sent[0].TextBody, "billing period ends on September 15, 2026")
		assert.NotContains(t, sender.sent[0].TextBody, "free trial")
	})
}

func TestPaymentFailedNotice(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(sender)

	require.NoError(t, n.PaymentFailed(context.Background(), "user@example.com"))

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].TextBody, "https://app.marketingbuddy.local/billing")
}

func TestSubscriptionCanceledNotice(t *testing.T) {
	t.Run("with period end", func(t *testing.T) {
		sender := &recordingSender{}
		n := newTestNotifier(sender)

		periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, n.SubscriptionCanceled(context.Background(), "user@example.com", periodEnd))

		require.Len(t, sender.sent, 1)
		assert.Contains(t, sender.sent[0].TextBody, "Pro access until October 1, 2026")
	})

	t.Run("immediate", func(t *testing.T) {
		sender := &recordingSender{}
		n := newTestNotifier(sender)

		require.NoError(t, n.SubscriptionCanceled(context.Background(), "user@example.com", time.Time{}))

		require.Len(t, sender.sent, 1)
		assert.Contains(t, sender.sent[0].TextBody, "now on the free plan")
	})
}

func TestAccountDeletedNotice(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(sender)

	require.NoError(t, n.AccountDeleted(context.Background(), "user@example.com"))

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].TextBody, "account has been deleted")
}

func TestNoticeSendFailure(t *testing.T) {
	sender := &recordingSender{err: context.DeadlineExceeded}
	n := newTestNotifier(sender)

	assert.Error(t, n.PaymentFailed(context.Background(), "user@example.com"))
}
