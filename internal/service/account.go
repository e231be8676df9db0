package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/martacalvinho/buddy-billing/internal/auth"
	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/domain"
	"github.com/martacalvinho/buddy-billing/internal/email"
	"github.com/martacalvinho/buddy-billing/internal/telemetry"
)

// AccountService owns the user-initiated account lifecycle: canceling a
// subscription and deleting the account entirely.
type AccountService struct {
	store    domain.SubscriptionStore
	provider billing.Provider
	auth     auth.Provider
	notifier email.Notifier
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(store domain.SubscriptionStore, provider billing.Provider, authProvider auth.Provider, notifier email.Notifier, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		store:    store,
		provider: provider,
		auth:     authProvider,
		notifier: notifier,
		logger:   logger.With("service", "account"),
	}
}

// DeleteAccountResult reports the two phases of account deletion.
// AuthDeleted is always true on a nil error; SubscriptionDeleted is
// false when the user never had a subscription row.
type DeleteAccountResult struct {
	AuthDeleted         bool
	SubscriptionDeleted bool
}

// CancelSubscription cancels the user's subscription. The local row is
// marked canceled immediately; the provider is asked to cancel at
// period end so the user keeps what they paid for. The provider call is
// best-effort since the deletion webhook reconciles the final state
// either way.
//
// Idempotent: canceling with no subscription, or one already canceled,
// succeeds without doing anything.
func (s *AccountService) CancelSubscription(ctx context.Context, userID uuid.UUID) error {
	const op = "account.cancel_subscription"

	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil
		}
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to get subscription")
	}
	if sub.Status == domain.StatusCanceled {
		return nil
	}

	if sub.StripeSubscriptionID != "" {
		err := s.provider.CancelSubscription(ctx, billing.CancelSubscriptionParams{
			SubscriptionID: sub.StripeSubscriptionID,
			AtPeriodEnd:    true,
		})
		if err != nil && !errors.Is(err, billing.ErrSubscriptionNotFound) {
			s.logger.Error("failed to cancel provider subscription",
				"user_id", userID,
				"subscription_id", sub.StripeSubscriptionID,
				"error", err,
			)
		}
	}

	if err := s.store.SetCanceled(ctx, userID, time.Now()); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil
		}
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to cancel subscription")
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsCanceled.WithLabelValues("user").Inc()
	}

	s.logger.Info("subscription canceled by user",
		"user_id", userID,
		"subscription_id", sub.StripeSubscriptionID,
	)

	if sub.Email != "" {
		s.notify(ctx, "subscription_canceled", func() error {
			return s.notifier.SubscriptionCanceled(ctx, sub.Email, sub.CurrentPeriodEnd)
		})
	}

	return nil
}

// DeleteAccount removes the user entirely.
//
// Flow:
//  1. Cancel the provider subscription immediately (best-effort)
//  2. Delete the auth identity
//  3. Delete the subscription row
//
// The provider cancel must happen first so a deleted user is never
// billed again; its failure is logged but does not block deletion. The
// auth deletion is the one step that can fail the request, since
// leaving a usable login behind defeats the point.
func (s *AccountService) DeleteAccount(ctx context.Context, userID uuid.UUID) (*DeleteAccountResult, error) {
	const op = "account.delete_account"

	sub, err := s.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to get subscription")
	}

	if sub != nil && sub.StripeSubscriptionID != "" {
		err := s.provider.CancelSubscription(ctx, billing.CancelSubscriptionParams{
			SubscriptionID: sub.StripeSubscriptionID,
			AtPeriodEnd:    false,
		})
		if err != nil && !errors.Is(err, billing.ErrSubscriptionNotFound) {
			s.logger.Error("failed to cancel provider subscription before deletion",
				"user_id", userID,
				"subscription_id", sub.StripeSubscriptionID,
				"error", err,
			)
		}
	}

	if err := s.auth.DeleteUser(ctx, userID); err != nil {
		if !errors.Is(err, auth.ErrUserNotFound) {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to delete auth identity")
		}
		// Identity already gone; still clean up the local row.
	}

	subscriptionDeleted, err := s.store.Delete(ctx, userID)
	if err != nil {
		// The login is gone but the row survived. Report the partial
		// result instead of failing a deletion that mostly succeeded.
		s.logger.Error("failed to delete subscription row",
			"user_id", userID,
			"error", err,
		)
		telemetry.CaptureErrorWithUser(err, userID.String(), map[string]interface{}{
			"operation": op,
		})
		subscriptionDeleted = false
	}

	if telemetry.Business != nil {
		hadSubscription := "false"
		if sub != nil {
			hadSubscription = "true"
		}
		telemetry.Business.AccountsDeleted.WithLabelValues(hadSubscription).Inc()
		if sub != nil && sub.Status != domain.StatusCanceled {
			telemetry.Business.SubscriptionsCanceled.WithLabelValues("account_deletion").Inc()
		}
	}

	s.logger.Info("account deleted",
		"user_id", userID,
		"subscription_deleted", subscriptionDeleted,
	)

	if sub != nil && sub.Email != "" {
		s.notify(ctx, "account_deleted", func() error {
			return s.notifier.AccountDeleted(ctx, sub.Email)
		})
	}

	return &DeleteAccountResult{
		AuthDeleted:         true,
		SubscriptionDeleted: subscriptionDeleted,
	}, nil
}

// notify sends a lifecycle email best-effort.
func (s *AccountService) notify(ctx context.Context, emailType string, send func() error) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil {
		if telemetry.Business != nil {
			telemetry.Business.EmailFailed.WithLabelValues(emailType).Inc()
		}
		s.logger.Error("failed to send lifecycle email", "email_type", emailType, "error", err)
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.EmailSent.WithLabelValues(emailType).Inc()
	}
}
