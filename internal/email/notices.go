package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier sends subscription lifecycle notices to users.
// All sends are synchronous and best-effort; callers log failures but
// never fail the triggering operation because an email didn't go out.
type Notifier interface {
	// SubscriptionStarted is sent after checkout completes.
	SubscriptionStarted(ctx context.Context, to string, trial bool, periodEnd time.Time) error

	// PaymentFailed is sent when an invoice payment fails.
	PaymentFailed(ctx context.Context, to string) error

	// SubscriptionCanceled is sent when a subscription is canceled,
	// either by the user or by the billing provider.
	SubscriptionCanceled(ctx context.Context, to string, periodEnd time.Time) error

	// AccountDeleted is sent after an account deletion completes.
	AccountDeleted(ctx context.Context, to string) error
}

// NotifierConfig holds settings for the lifecycle notifier.
type NotifierConfig struct {
	AppName    string // display name used in bodies and From
	From       string // sender address
	BillingURL string // where users manage their payment method
}

// notifier implements Notifier on top of a Sender.
type notifier struct {
	sender Sender
	config NotifierConfig
	logger *slog.Logger
}

// NewNotifier creates a lifecycle notifier.
func NewNotifier(sender Sender, config NotifierConfig, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if config.AppName == "" {
		config.AppName = "Marketing Buddy"
	}
	return &notifier{
		sender: sender,
		config: config,
		logger: logger.With("component", "email_notifier"),
	}
}

func (n *notifier) send(ctx context.Context, to, subject, templateName string, data noticeData) error {
	data.AppName = n.config.AppName
	data.BillingURL = n.config.BillingURL

	body, err := renderNotice(templateName, data)
	if err != nil {
		return err
	}

	_, err = n.sender.Send(ctx, &Email{
		To:       []string{to},
		From:     n.config.From,
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		return fmt.Errorf("failed to send %s notice: %w", templateName, err)
	}

	n.logger.Info("lifecycle notice sent", "notice", templateName, "to", to)
	return nil
}

func (n *notifier) SubscriptionStarted(ctx context.Context, to string, trial bool, periodEnd time.Time) error {
	subject := fmt.Sprintf("Welcome to %s Pro", n.config.AppName)
	return n.send(ctx, to, subject, "subscription_started", noticeData{
		Trial:     trial,
		PeriodEnd: formatPeriodEnd(periodEnd),
	})
}

func (n *notifier) PaymentFailed(ctx context.Context, to string) error {
	subject := fmt.Sprintf("Payment failed for your %s subscription", n.config.AppName)
	return n.send(ctx, to, subject, "payment_failed", noticeData{})
}

func (n *notifier) SubscriptionCanceled(ctx context.Context, to string, periodEnd time.Time) error {
	subject := fmt.Sprintf("Your %s subscription has been canceled", n.config.AppName)
	return n.send(ctx, to, subject, "subscription_canceled", noticeData{
		PeriodEnd: formatPeriodEnd(periodEnd),
	})
}

func (n *notifier) AccountDeleted(ctx context.Context, to string) error {
	subject := fmt.Sprintf("Your %s account has been deleted", n.config.AppName)
	return n.send(ctx, to, subject, "account_deleted", noticeData{})
}

// NoopNotifier is used when email delivery is disabled. It records the
// notices it would have sent, which also makes it useful in tests.
type NoopNotifier struct {
	Sent []string
}

func (n *NoopNotifier) SubscriptionStarted(ctx context.Context, to string, trial bool, periodEnd time.Time) error {
	n.Sent = append(n.Sent, "subscription_started:"+to)
	return nil
}

func (n *NoopNotifier) PaymentFailed(ctx context.Context, to string) error {
	n.Sent = append(n.Sent, "payment_failed:"+to)
	return nil
}

func (n *NoopNotifier) SubscriptionCanceled(ctx context.Context, to string, periodEnd time.Time) error {
	n.Sent = append(n.Sent, "subscription_canceled:"+to)
	return nil
}

func (n *NoopNotifier) AccountDeleted(ctx context.Context, to string) error {
	n.Sent = append(n.Sent, "account_deleted:"+to)
	return nil
}
