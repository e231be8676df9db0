package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/domain"
	"github.com/martacalvinho/buddy-billing/internal/telemetry"
)

// CheckoutConfig holds the billing configuration shared by checkout and
// portal flows.
type CheckoutConfig struct {
	// ProPriceID is the provider price id for the pro plan.
	ProPriceID string

	// TrialDays is the default trial length for new subscriptions.
	// Zero disables the trial.
	TrialDays int64

	// SuccessURL and CancelURL are where checkout redirects the user.
	SuccessURL string
	CancelURL  string

	// PortalReturnURL is where the billing portal sends the user back.
	PortalReturnURL string
}

// BillingService creates checkout and portal sessions and reads
// subscription state for authenticated users.
type BillingService struct {
	store    domain.SubscriptionStore
	provider billing.Provider
	config   CheckoutConfig
	logger   *slog.Logger
}

// NewBillingService creates a new BillingService.
func NewBillingService(store domain.SubscriptionStore, provider billing.Provider, config CheckoutConfig, logger *slog.Logger) *BillingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingService{
		store:    store,
		provider: provider,
		config:   config,
		logger:   logger.With("service", "billing"),
	}
}

// StartCheckoutParams contains parameters for starting a checkout.
type StartCheckoutParams struct {
	UserID uuid.UUID
	Email  string
	Plan   domain.Plan

	// TrialDays overrides the configured default when set.
	TrialDays *int64
}

// StartCheckout creates a hosted checkout session for the pro plan.
//
// Flow:
//  1. Validate the requested plan and price configuration
//  2. Reuse the user's billing customer id from an existing row
//  3. Otherwise create a provider customer tagged with the user id
//  4. Create a subscription-mode checkout session
//
// No local row is written here. The subscription row is created by the
// webhook reconciler once checkout completes.
func (s *BillingService) StartCheckout(ctx context.Context, params StartCheckoutParams) (*billing.CheckoutSession, error) {
	const op = "billing.start_checkout"

	if params.Plan != domain.PlanPro {
		return nil, ErrInvalidPlan
	}
	if s.config.ProPriceID == "" {
		return nil, ErrMissingPriceConfig
	}

	metadata := map[string]string{"user_id": params.UserID.String()}

	// Step 2: reuse an existing billing customer when we have one
	customerID := ""
	existing, err := s.store.Get(ctx, params.UserID)
	switch {
	case err == nil:
		customerID = existing.StripeCustomerID
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		// first checkout for this user
	default:
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to look up subscription")
	}

	if customerID == "" {
		customer, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
			Email:    params.Email,
			Metadata: metadata,
		})
		if err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to create billing customer")
		}
		customerID = customer.ID
	}

	trialDays := s.config.TrialDays
	if params.TrialDays != nil {
		trialDays = *params.TrialDays
	}

	session, err := s.provider.CreateCheckoutSession(ctx, billing.CreateCheckoutSessionParams{
		PriceID:    s.config.ProPriceID,
		CustomerID: customerID,
		SuccessURL: s.config.SuccessURL,
		CancelURL:  s.config.CancelURL,
		TrialDays:  trialDays,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to create checkout session")
	}

	if telemetry.Business != nil {
		telemetry.Business.CheckoutStarted.WithLabelValues(string(params.Plan)).Inc()
	}

	s.logger.Info("checkout session created",
		"user_id", params.UserID,
		"session_id", session.ID,
		"trial_days", trialDays,
	)

	return session, nil
}

// GetSubscription returns the subscription record for a user. Users
// without a row get a synthesized free record so callers never have to
// distinguish "no row" from "free plan".
func (s *BillingService) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	const op = "billing.get_subscription"

	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return &domain.Subscription{
				UserID: userID,
				Plan:   domain.PlanFree,
				Status: domain.StatusCanceled,
			}, nil
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to get subscription")
	}
	return sub, nil
}

// CreatePortalSession creates a billing portal session where the user
// can manage their payment method and subscription. Requires the user
// to have gone through checkout at least once.
func (s *BillingService) CreatePortalSession(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "billing.create_portal_session"

	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return "", ErrNoBillingAccount
		}
		return "", domain.WrapError(err, domain.EINTERNAL, op, "failed to get subscription")
	}
	if sub.StripeCustomerID == "" {
		return "", ErrNoBillingAccount
	}

	session, err := s.provider.CreatePortalSession(ctx, billing.CreatePortalSessionParams{
		CustomerID: sub.StripeCustomerID,
		ReturnURL:  s.config.PortalReturnURL,
	})
	if err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, op, "failed to create portal session")
	}

	s.logger.Info("portal session created", "user_id", userID, "session_id", session.ID)
	return session.URL, nil
}
