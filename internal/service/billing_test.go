package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/domain"
)

func testCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		ProPriceID:      "price_pro",
		TrialDays:       7,
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing",
		PortalReturnURL: "https://app.example.com/settings",
	}
}

func TestBillingService_StartCheckout(t *testing.T) {
	userID := uuid.New()

	t.Run("creates a customer and a checkout session", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		provider := billing.NewMockProvider()

		var customerParams billing.CreateCustomerParams
		provider.CreateCustomerFunc = func(ctx context.Context, params billing.CreateCustomerParams) (*billing.Customer, error) {
			customerParams = params
			return &billing.Customer{ID: "cus_new", Email: params.Email}, nil
		}
		var sessionParams billing.CreateCheckoutSessionParams
		provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CreateCheckoutSessionParams) (*billing.CheckoutSession, error) {
			sessionParams = params
			return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, nil
		}

		svc := NewBillingService(store, provider, testCheckoutConfig(), nil)
		session, err := svc.StartCheckout(context.Background(), StartCheckoutParams{
			UserID: userID,
			Email:  "user@example.com",
			Plan:   domain.PlanPro,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", session.URL)

		assert.Equal(t, userID.String(), customerParams.Metadata["user_id"])
		assert.Equal(t, "user@example.com", customerParams.Email)

		assert.Equal(t, "price_pro", sessionParams.PriceID)
		assert.Equal(t, "cus_new", sessionParams.CustomerID)
		assert.Equal(t, int64(7), sessionParams.TrialDays)
		assert.Equal(t, userID.String(), sessionParams.Metadata["user_id"])
	})

	t.Run("reuses the customer id from an existing row", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		store.Subs[userID] = &domain.Subscription{
			UserID:           userID,
			StripeCustomerID: "cus_existing",
			Plan:             domain.PlanFree,
			Status:           domain.StatusCanceled,
		}
		provider := billing.NewMockProvider()
		provider.CreateCustomerFunc = func(ctx context.Context, params billing.CreateCustomerParams) (*billing.Customer, error) {
			t.Fatal("CreateCustomer should not be called when a customer id exists")
			return nil, nil
		}
		var sessionParams billing.CreateCheckoutSessionParams
		provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CreateCheckoutSessionParams) (*billing.CheckoutSession, error) {
			sessionParams = params
			return &billing.CheckoutSession{ID: "cs_2", URL: "https://checkout.stripe.com/c/pay/cs_2"}, nil
		}

		svc := NewBillingService(store, provider, testCheckoutConfig(), nil)
		_, err := svc.StartCheckout(context.Background(), StartCheckoutParams{
			UserID: userID,
			Email:  "user@example.com",
			Plan:   domain.PlanPro,
		})
		require.NoError(t, err)
		assert.Equal(t, "cus_existing", sessionParams.CustomerID)
	})

	t.Run("trial override takes precedence over config", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		provider := billing.NewMockProvider()
		var sessionParams billing.CreateCheckoutSessionParams
		provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CreateCheckoutSessionParams) (*billing.CheckoutSession, error) {
			sessionParams = params
			return &billing.CheckoutSession{ID: "cs_3", URL: "u"}, nil
		}

		svc := NewBillingService(store, provider, testCheckoutConfig(), nil)
		noTrial := int64(0)
		_, err := svc.StartCheckout(context.Background(), StartCheckoutParams{
			UserID:    userID,
			Email:     "user@example.com",
			Plan:      domain.PlanPro,
			TrialDays: &noTrial,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), sessionParams.TrialDays)
	})

	t.Run("rejects plans other than pro", func(t *testing.T) {
		svc := NewBillingService(domain.NewMockSubscriptionStore(), billing.NewMockProvider(), testCheckoutConfig(), nil)
		_, err := svc.StartCheckout(context.Background(), StartCheckoutParams{
			UserID: userID,
			Email:  "user@example.com",
			Plan:   domain.PlanFree,
		})
		require.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("fails without a configured price", func(t *testing.T) {
		config := testCheckoutConfig()
		config.ProPriceID = ""
		svc := NewBillingService(domain.NewMockSubscriptionStore(), billing.NewMockProvider(), config, nil)
		_, err := svc.StartCheckout(context.Background(), StartCheckoutParams{
			UserID: userID,
			Email:  "user@example.com",
			Plan:   domain.PlanPro,
		})
		require.ErrorIs(t, err, ErrMissingPriceConfig)
	})
}

func TestBillingService_GetSubscription(t *testing.T) {
	userID := uuid.New()

	t.Run("returns the stored row", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		periodEnd := time.Now().Add(20 * 24 * time.Hour)
		store.Subs[userID] = &domain.Subscription{
			UserID:           userID,
			Plan:             domain.PlanPro,
			Status:           domain.StatusActive,
			CurrentPeriodEnd: periodEnd,
		}
		svc := NewBillingService(store, billing.NewMockProvider(), testCheckoutConfig(), nil)

		sub, err := svc.GetSubscription(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, domain.PlanPro, sub.Plan)
		assert.True(t, sub.IsEntitled())
	})

	t.Run("synthesizes a free record for users without a row", func(t *testing.T) {
		svc := NewBillingService(domain.NewMockSubscriptionStore(), billing.NewMockProvider(), testCheckoutConfig(), nil)

		sub, err := svc.GetSubscription(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, domain.PlanFree, sub.Plan)
		assert.Equal(t, domain.StatusCanceled, sub.Status)
		assert.False(t, sub.IsEntitled())
	})
}

func TestBillingService_CreatePortalSession(t *testing.T) {
	userID := uuid.New()

	t.Run("creates a portal session for the stored customer", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		store.Subs[userID] = &domain.Subscription{
			UserID:           userID,
			StripeCustomerID: "cus_123",
			Plan:             domain.PlanPro,
			Status:           domain.StatusActive,
		}
		provider := billing.NewMockProvider()
		var portalParams billing.CreatePortalSessionParams
		provider.CreatePortalSessionFunc = func(ctx context.Context, params billing.CreatePortalSessionParams) (*billing.PortalSession, error) {
			portalParams = params
			return &billing.PortalSession{ID: "bps_1", URL: "https://billing.stripe.com/p/session/bps_1"}, nil
		}

		svc := NewBillingService(store, provider, testCheckoutConfig(), nil)
		url, err := svc.CreatePortalSession(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "https://billing.stripe.com/p/session/bps_1", url)
		assert.Equal(t, "cus_123", portalParams.CustomerID)
		assert.Equal(t, "https://app.example.com/settings", portalParams.ReturnURL)
	})

	t.Run("fails for users who never checked out", func(t *testing.T) {
		svc := NewBillingService(domain.NewMockSubscriptionStore(), billing.NewMockProvider(), testCheckoutConfig(), nil)
		_, err := svc.CreatePortalSession(context.Background(), userID)
		require.ErrorIs(t, err, ErrNoBillingAccount)
	})
}
