package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/domain"
	"github.com/martacalvinho/buddy-billing/internal/email"
)

func TestReconciler_ProcessCheckoutCompleted(t *testing.T) {
	userID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)

	t.Run("creates pro subscription from provider state", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		provider := billing.NewMockProvider()
		provider.AddSubscription(&billing.Subscription{
			ID:               "sub_123",
			CustomerID:       "cus_123",
			Status:           "trialing",
			CurrentPeriodEnd: periodEnd,
		})
		notifier := &email.NoopNotifier{}
		r := NewReconciler(store, provider, notifier, nil)

		err := r.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
			EventID:        "evt_1",
			EventTime:      time.Now(),
			SessionID:      "cs_1",
			CustomerID:     "cus_123",
			SubscriptionID: "sub_123",
			CustomerEmail:  "user@example.com",
			UserID:         userID.String(),
		})
		require.NoError(t, err)

		row := store.Subs[userID]
		require.NotNil(t, row)
		assert.Equal(t, domain.PlanPro, row.Plan)
		assert.Equal(t, domain.StatusTrialing, row.Status)
		assert.Equal(t, "cus_123", row.StripeCustomerID)
		assert.Equal(t, "sub_123", row.StripeSubscriptionID)
		assert.Equal(t, "user@example.com", row.Email)
		assert.True(t, row.CurrentPeriodEnd.Equal(periodEnd))

		assert.Contains(t, notifier.Sent, "subscription_started:user@example.com")
	})

	t.Run("duplicate event is rejected without mutation", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		store.Events["evt_1"] = "checkout.session.completed"
		provider := billing.NewMockProvider()
		r := NewReconciler(store, provider, &email.NoopNotifier{}, nil)

		err := r.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
			EventID:        "evt_1",
			SubscriptionID: "sub_123",
			UserID:         userID.String(),
		})
		require.ErrorIs(t, err, ErrDuplicateEvent)
		assert.Empty(t, store.Subs)
		assert.Empty(t, provider.CallLog)
	})

	t.Run("provider fetch failure releases the event for retry", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		provider := billing.NewMockProvider()
		provider.GetSubscriptionFunc = func(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
			return nil, errors.New("stripe is down")
		}
		r := NewReconciler(store, provider, &email.NoopNotifier{}, nil)

		err := r.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
			EventID:        "evt_2",
			SubscriptionID: "sub_123",
			UserID:         userID.String(),
		})
		require.Error(t, err)
		assert.NotContains(t, store.Events, "evt_2")
		assert.Empty(t, store.Subs)
	})

	t.Run("unusable user id is acknowledged and stays recorded", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		provider := billing.NewMockProvider()
		provider.AddSubscription(&billing.Subscription{
			ID:     "sub_123",
			Status: "active",
		})
		r := NewReconciler(store, provider, &email.NoopNotifier{}, nil)

		err := r.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
			EventID:        "evt_3",
			SubscriptionID: "sub_123",
			UserID:         "not-a-uuid",
		})
		require.NoError(t, err)
		assert.Contains(t, store.Events, "evt_3")
		assert.Empty(t, store.Subs)
	})

	t.Run("missing session user id falls back to subscription metadata", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		provider := billing.NewMockProvider()
		provider.AddSubscription(&billing.Subscription{
			ID:               "sub_123",
			CustomerID:       "cus_123",
			Status:           "active",
			CurrentPeriodEnd: periodEnd,
			Metadata:         map[string]string{"user_id": userID.String()},
		})
		r := NewReconciler(store, provider, &email.NoopNotifier{}, nil)

		err := r.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
			EventID:        "evt_meta",
			SessionID:      "cs_meta",
			CustomerID:     "cus_123",
			SubscriptionID: "sub_123",
			CustomerEmail:  "user@example.com",
			UserID:         "",
		})
		require.NoError(t, err)

		row := store.Subs[userID]
		require.NotNil(t, row)
		assert.Equal(t, domain.PlanPro, row.Plan)
		assert.Equal(t, domain.StatusActive, row.Status)
	})
}

func TestReconciler_ProcessSubscriptionUpdated(t *testing.T) {
	userID := uuid.New()

	seed := func() *domain.MockSubscriptionStore {
		store := domain.NewMockSubscriptionStore()
		store.Subs[userID] = &domain.Subscription{
			UserID:               userID,
			Email:                "user@example.com",
			StripeCustomerID:     "cus_123",
			StripeSubscriptionID: "sub_123",
			Plan:                 domain.PlanPro,
			Status:               domain.StatusActive,
			UpdatedAt:            time.Now().Add(-time.Hour),
		}
		return store
	}

	t.Run("maps provider status and applies update", func(t *testing.T) {
		store := seed()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		periodEnd := time.Now().Add(14 * 24 * time.Hour)
		err := r.ProcessSubscriptionUpdated(context.Background(), SubscriptionUpdatedEvent{
			EventID:          "evt_10",
			EventTime:        time.Now(),
			SubscriptionID:   "sub_123",
			CustomerID:       "cus_123",
			ProviderStatus:   "past_due",
			CurrentPeriodEnd: periodEnd,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPastDue, store.Subs[userID].Status)
		assert.Equal(t, domain.PlanPro, store.Subs[userID].Plan)
	})

	t.Run("cancellation drops plan to free", func(t *testing.T) {
		store := seed()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessSubscriptionUpdated(context.Background(), SubscriptionUpdatedEvent{
			EventID:        "evt_11",
			EventTime:      time.Now(),
			SubscriptionID: "sub_123",
			ProviderStatus: "canceled",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, store.Subs[userID].Status)
		assert.Equal(t, domain.PlanFree, store.Subs[userID].Plan)
	})

	t.Run("stale event is skipped without error", func(t *testing.T) {
		store := seed()
		store.Subs[userID].UpdatedAt = time.Now()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessSubscriptionUpdated(context.Background(), SubscriptionUpdatedEvent{
			EventID:        "evt_12",
			EventTime:      time.Now().Add(-time.Hour),
			SubscriptionID: "sub_123",
			ProviderStatus: "past_due",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, store.Subs[userID].Status)
	})

	t.Run("falls back to customer id lookup", func(t *testing.T) {
		store := seed()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessSubscriptionUpdated(context.Background(), SubscriptionUpdatedEvent{
			EventID:        "evt_13",
			EventTime:      time.Now(),
			SubscriptionID: "sub_other",
			CustomerID:     "cus_123",
			ProviderStatus: "past_due",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPastDue, store.Subs[userID].Status)
	})

	t.Run("self-heals a missing row from metadata", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessSubscriptionUpdated(context.Background(), SubscriptionUpdatedEvent{
			EventID:        "evt_14",
			EventTime:      time.Now(),
			SubscriptionID: "sub_123",
			CustomerID:     "cus_123",
			ProviderStatus: "active",
			UserID:         userID.String(),
		})
		require.NoError(t, err)
		row := store.Subs[userID]
		require.NotNil(t, row)
		assert.Equal(t, domain.PlanPro, row.Plan)
		assert.Equal(t, domain.StatusActive, row.Status)
	})

	t.Run("unknown subscription without metadata is acknowledged", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessSubscriptionUpdated(context.Background(), SubscriptionUpdatedEvent{
			EventID:        "evt_15",
			EventTime:      time.Now(),
			SubscriptionID: "sub_unknown",
			ProviderStatus: "active",
		})
		require.NoError(t, err)
		assert.Empty(t, store.Subs)
	})
}

func TestReconciler_ProcessSubscriptionDeleted(t *testing.T) {
	userID := uuid.New()

	t.Run("cancels the row and notifies the user", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		periodEnd := time.Now().Add(7 * 24 * time.Hour)
		store.Subs[userID] = &domain.Subscription{
			UserID:               userID,
			Email:                "user@example.com",
			StripeSubscriptionID: "sub_123",
			Plan:                 domain.PlanPro,
			Status:               domain.StatusActive,
			CurrentPeriodEnd:     periodEnd,
		}
		notifier := &email.NoopNotifier{}
		r := NewReconciler(store, billing.NewMockProvider(), notifier, nil)

		err := r.ProcessSubscriptionDeleted(context.Background(), SubscriptionDeletedEvent{
			EventID:        "evt_20",
			EventTime:      time.Now(),
			SubscriptionID: "sub_123",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, store.Subs[userID].Status)
		assert.Equal(t, domain.PlanFree, store.Subs[userID].Plan)
		assert.Contains(t, notifier.Sent, "subscription_canceled:user@example.com")
	})

	t.Run("unknown subscription is acknowledged", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessSubscriptionDeleted(context.Background(), SubscriptionDeletedEvent{
			EventID:        "evt_21",
			SubscriptionID: "sub_gone",
		})
		require.NoError(t, err)
	})
}

func TestReconciler_ProcessInvoicePaymentFailed(t *testing.T) {
	userID := uuid.New()

	t.Run("marks the subscription past due and notifies", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		store.Subs[userID] = &domain.Subscription{
			UserID:               userID,
			Email:                "user@example.com",
			StripeSubscriptionID: "sub_123",
			Plan:                 domain.PlanPro,
			Status:               domain.StatusActive,
			UpdatedAt:            time.Now().Add(-time.Hour),
		}
		notifier := &email.NoopNotifier{}
		r := NewReconciler(store, billing.NewMockProvider(), notifier, nil)

		err := r.ProcessInvoicePaymentFailed(context.Background(), InvoicePaymentFailedEvent{
			EventID:        "evt_30",
			EventTime:      time.Now(),
			SubscriptionID: "sub_123",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPastDue, store.Subs[userID].Status)
		assert.Contains(t, notifier.Sent, "payment_failed:user@example.com")
	})

	t.Run("one-off invoice is acknowledged without action", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessInvoicePaymentFailed(context.Background(), InvoicePaymentFailedEvent{
			EventID: "evt_31",
		})
		require.NoError(t, err)
		assert.Empty(t, store.Subs)
	})

	t.Run("canceled subscription is not regressed to past due", func(t *testing.T) {
		store := domain.NewMockSubscriptionStore()
		store.Subs[userID] = &domain.Subscription{
			UserID:               userID,
			StripeSubscriptionID: "sub_123",
			Plan:                 domain.PlanFree,
			Status:               domain.StatusCanceled,
			UpdatedAt:            time.Now().Add(-time.Hour),
		}
		r := NewReconciler(store, billing.NewMockProvider(), &email.NoopNotifier{}, nil)

		err := r.ProcessInvoicePaymentFailed(context.Background(), InvoicePaymentFailedEvent{
			EventID:        "evt_32",
			EventTime:      time.Now(),
			SubscriptionID: "sub_123",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCanceled, store.Subs[userID].Status)
	})
}
