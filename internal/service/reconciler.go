package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/domain"
	"github.com/martacalvinho/buddy-billing/internal/email"
	"github.com/martacalvinho/buddy-billing/internal/telemetry"
)

// Reconciler applies verified billing provider events to the
// subscription store. The webhook handler verifies signatures and
// parses payloads; the reconciler owns deduplication and all store
// mutations.
//
// Every Process method follows the same contract: a duplicate event id
// returns ErrDuplicateEvent without touching the store, and any failure
// after the dedup record was written removes it again so the provider's
// retry is reprocessed.
type Reconciler struct {
	store    domain.SubscriptionStore
	provider billing.Provider
	notifier email.Notifier
	logger   *slog.Logger
}

// NewReconciler creates a new webhook reconciler.
func NewReconciler(store domain.SubscriptionStore, provider billing.Provider, notifier email.Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		provider: provider,
		notifier: notifier,
		logger:   logger.With("service", "reconciler"),
	}
}

// CheckoutCompletedEvent carries the fields of checkout.session.completed
// the reconciler needs.
type CheckoutCompletedEvent struct {
	EventID   string
	EventTime time.Time

	SessionID      string
	CustomerID     string
	SubscriptionID string
	CustomerEmail  string

	// UserID is the raw user id from session metadata or the client
	// reference id.
	UserID string
}

// SubscriptionUpdatedEvent carries the fields of customer.subscription.updated.
type SubscriptionUpdatedEvent struct {
	EventID   string
	EventTime time.Time

	SubscriptionID   string
	CustomerID       string
	ProviderStatus   string
	CurrentPeriodEnd time.Time

	// UserID is the raw user id from subscription metadata, when present.
	UserID string
}

// SubscriptionDeletedEvent carries the fields of customer.subscription.deleted.
type SubscriptionDeletedEvent struct {
	EventID   string
	EventTime time.Time

	SubscriptionID string
	CustomerID     string
}

// InvoicePaymentFailedEvent carries the fields of invoice.payment_failed.
type InvoicePaymentFailedEvent struct {
	EventID   string
	EventTime time.Time

	SubscriptionID string
	CustomerID     string
}

// ProcessCheckoutCompleted creates or replaces the subscription row
// after a checkout completes.
//
// The event payload is not trusted for subscription state. The
// subscription is fetched from the provider so the stored status and
// period end reflect what the provider actually created, including the
// trial when one was configured.
func (r *Reconciler) ProcessCheckoutCompleted(ctx context.Context, ev CheckoutCompletedEvent) error {
	const op = "reconciler.checkout_completed"

	fresh, err := r.seen(ctx, ev.EventID, "checkout.session.completed")
	if err != nil {
		return err
	}
	if !fresh {
		return ErrDuplicateEvent
	}

	if ev.SubscriptionID == "" {
		r.logger.Error("checkout session completed without a subscription",
			"event_id", ev.EventID,
			"session_id", ev.SessionID,
		)
		return nil
	}

	sub, err := r.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to fetch subscription from provider"))
	}

	// The session metadata is the primary source of the user id. Older
	// sessions only carried it on the subscription, so fall back to the
	// fetched subscription's metadata before giving up.
	rawUserID := ev.UserID
	if rawUserID == "" {
		rawUserID = sub.Metadata["user_id"]
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		// Not retryable. A session without a usable user id will never
		// gain one, so the event stays recorded and is acknowledged.
		r.logger.Error("checkout session has no usable user id",
			"event_id", ev.EventID,
			"session_id", ev.SessionID,
			"raw_user_id", rawUserID,
		)
		return nil
	}

	status := domain.MapProviderStatus(sub.Status)
	customerID := sub.CustomerID
	if customerID == "" {
		customerID = ev.CustomerID
	}

	err = r.store.Upsert(ctx, domain.UpsertSubscriptionParams{
		UserID:               userID,
		Email:                ev.CustomerEmail,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		Plan:                 domain.PlanPro,
		Status:               status,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
	})
	if err != nil {
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to upsert subscription"))
	}

	if telemetry.Business != nil {
		telemetry.Business.CheckoutCompleted.WithLabelValues(string(domain.PlanPro)).Inc()
		telemetry.Business.SubscriptionsCreated.WithLabelValues(string(domain.PlanPro), string(status)).Inc()
	}

	r.logger.Info("subscription activated",
		"user_id", userID,
		"subscription_id", sub.ID,
		"status", status,
		"period_end", sub.CurrentPeriodEnd,
	)

	if ev.CustomerEmail != "" {
		r.notify(ctx, "subscription_started", func() error {
			return r.notifier.SubscriptionStarted(ctx, ev.CustomerEmail, status == domain.StatusTrialing, sub.CurrentPeriodEnd)
		})
	}

	return nil
}

// ProcessSubscriptionUpdated applies a provider-side status change.
// The store enforces the lifecycle transition table and discards
// deliveries older than the row's last update; a rejected change is
// logged and acknowledged, not an error.
func (r *Reconciler) ProcessSubscriptionUpdated(ctx context.Context, ev SubscriptionUpdatedEvent) error {
	const op = "reconciler.subscription_updated"

	fresh, err := r.seen(ctx, ev.EventID, "customer.subscription.updated")
	if err != nil {
		return err
	}
	if !fresh {
		return ErrDuplicateEvent
	}

	row, err := r.resolve(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		if !errors.Is(err, domain.ErrSubscriptionNotFound) {
			return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to resolve subscription"))
		}
		// No local row yet. Self-heal from metadata when the user id is
		// there; otherwise there is nothing to update.
		userID, parseErr := uuid.Parse(ev.UserID)
		if parseErr != nil {
			r.logger.Warn("subscription update for unknown subscription",
				"event_id", ev.EventID,
				"subscription_id", ev.SubscriptionID,
			)
			return nil
		}
		err = r.store.Upsert(ctx, domain.UpsertSubscriptionParams{
			UserID:               userID,
			StripeCustomerID:     ev.CustomerID,
			StripeSubscriptionID: ev.SubscriptionID,
			Plan:                 domain.PlanPro,
			Status:               domain.MapProviderStatus(ev.ProviderStatus),
			CurrentPeriodEnd:     ev.CurrentPeriodEnd,
		})
		if err != nil {
			return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to upsert subscription"))
		}
		return nil
	}

	status := domain.MapProviderStatus(ev.ProviderStatus)

	params := domain.UpdateStatusParams{
		UserID:           row.UserID,
		Status:           status,
		CurrentPeriodEnd: ev.CurrentPeriodEnd,
		EventTime:        ev.EventTime,
	}
	if status == domain.StatusCanceled {
		params.Plan = domain.PlanFree
	}

	applied, err := r.store.UpdateStatus(ctx, params)
	if err != nil {
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to update subscription status"))
	}
	if !applied {
		r.logger.Info("subscription update skipped",
			"event_id", ev.EventID,
			"user_id", row.UserID,
			"from", row.Status,
			"to", status,
		)
		return nil
	}

	if telemetry.Business != nil && status == domain.StatusCanceled && row.Status != domain.StatusCanceled {
		telemetry.Business.SubscriptionsCanceled.WithLabelValues("provider").Inc()
		telemetry.Business.SubscriptionChurn.WithLabelValues(ev.ProviderStatus).Inc()
	}

	r.logger.Info("subscription status updated",
		"user_id", row.UserID,
		"from", row.Status,
		"to", status,
		"period_end", ev.CurrentPeriodEnd,
	)

	return nil
}

// ProcessSubscriptionDeleted handles the provider terminating a
// subscription, either at period end after a scheduled cancel or
// immediately after payment retries are exhausted.
func (r *Reconciler) ProcessSubscriptionDeleted(ctx context.Context, ev SubscriptionDeletedEvent) error {
	const op = "reconciler.subscription_deleted"

	fresh, err := r.seen(ctx, ev.EventID, "customer.subscription.deleted")
	if err != nil {
		return err
	}
	if !fresh {
		return ErrDuplicateEvent
	}

	row, err := r.resolve(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			// Already deleted locally, e.g. via account deletion.
			r.logger.Info("subscription deletion for unknown subscription",
				"event_id", ev.EventID,
				"subscription_id", ev.SubscriptionID,
			)
			return nil
		}
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to resolve subscription"))
	}

	if err := r.store.SetCanceled(ctx, row.UserID, ev.EventTime); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil
		}
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to cancel subscription"))
	}

	if telemetry.Business != nil && row.Status != domain.StatusCanceled {
		telemetry.Business.SubscriptionsCanceled.WithLabelValues("provider").Inc()
	}

	r.logger.Info("subscription canceled by provider",
		"user_id", row.UserID,
		"subscription_id", ev.SubscriptionID,
	)

	if row.Email != "" {
		r.notify(ctx, "subscription_canceled", func() error {
			return r.notifier.SubscriptionCanceled(ctx, row.Email, row.CurrentPeriodEnd)
		})
	}

	return nil
}

// ProcessInvoicePaymentFailed marks the matching subscription past due.
// Invoices without a subscription reference are one-off charges and are
// acknowledged without action.
func (r *Reconciler) ProcessInvoicePaymentFailed(ctx context.Context, ev InvoicePaymentFailedEvent) error {
	const op = "reconciler.invoice_payment_failed"

	fresh, err := r.seen(ctx, ev.EventID, "invoice.payment_failed")
	if err != nil {
		return err
	}
	if !fresh {
		return ErrDuplicateEvent
	}

	if ev.SubscriptionID == "" {
		r.logger.Debug("payment failure for non-subscription invoice", "event_id", ev.EventID)
		return nil
	}

	row, err := r.resolve(ctx, ev.SubscriptionID, ev.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			r.logger.Warn("payment failure for unknown subscription",
				"event_id", ev.EventID,
				"subscription_id", ev.SubscriptionID,
			)
			return nil
		}
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to resolve subscription"))
	}

	applied, err := r.store.UpdateStatus(ctx, domain.UpdateStatusParams{
		UserID:    row.UserID,
		Status:    domain.StatusPastDue,
		EventTime: ev.EventTime,
	})
	if err != nil {
		return r.fail(ctx, ev.EventID, domain.WrapError(err, domain.EINTERNAL, op, "failed to mark subscription past due"))
	}
	if !applied {
		r.logger.Info("payment failure skipped",
			"event_id", ev.EventID,
			"user_id", row.UserID,
			"status", row.Status,
		)
		return nil
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentFailed.WithLabelValues(string(row.Plan)).Inc()
	}

	r.logger.Warn("subscription past due",
		"user_id", row.UserID,
		"subscription_id", ev.SubscriptionID,
	)

	if row.Email != "" {
		r.notify(ctx, "payment_failed", func() error {
			return r.notifier.PaymentFailed(ctx, row.Email)
		})
	}

	return nil
}

// seen records the event id and reports whether it was new.
func (r *Reconciler) seen(ctx context.Context, eventID, eventType string) (bool, error) {
	fresh, err := r.store.SeenEvent(ctx, eventID, eventType)
	if err != nil {
		return false, domain.WrapError(err, domain.EINTERNAL, "reconciler.dedup", "failed to record webhook event")
	}
	return fresh, nil
}

// fail removes the dedup record so the provider's retry is not treated
// as a duplicate, then returns the original error.
func (r *Reconciler) fail(ctx context.Context, eventID string, err error) error {
	if forgetErr := r.store.ForgetEvent(ctx, eventID); forgetErr != nil {
		r.logger.Error("failed to release webhook event for retry",
			"event_id", eventID,
			"error", forgetErr,
		)
	}
	return err
}

// resolve finds the local row for a provider subscription, falling back
// to the customer id for payloads that predate the subscription id.
func (r *Reconciler) resolve(ctx context.Context, subscriptionID, customerID string) (*domain.Subscription, error) {
	if subscriptionID != "" {
		row, err := r.store.GetByStripeSubscriptionID(ctx, subscriptionID)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	if customerID != "" {
		return r.store.GetByStripeCustomerID(ctx, customerID)
	}
	return nil, domain.ErrSubscriptionNotFound
}

// notify sends a lifecycle email best-effort. Failures are logged and
// counted but never fail the webhook.
func (r *Reconciler) notify(ctx context.Context, emailType string, send func() error) {
	if r.notifier == nil {
		return
	}
	if err := send(); err != nil {
		if telemetry.Business != nil {
			telemetry.Business.EmailFailed.WithLabelValues(emailType).Inc()
		}
		r.logger.Error("failed to send lifecycle email", "email_type", emailType, "error", err)
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.EmailSent.WithLabelValues(emailType).Inc()
	}
}
