package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/buddy-billing/internal/auth"
	"github.com/martacalvinho/buddy-billing/internal/billing"
	"github.com/martacalvinho/buddy-billing/internal/domain"
	"github.com/martacalvinho/buddy-billing/internal/middleware"
	"github.com/martacalvinho/buddy-billing/internal/service"
)

type billingFixture struct {
	handler  *BillingHandler
	store    *domain.MockSubscriptionStore
	provider *billing.MockProvider
	authed   func(http.HandlerFunc) http.Handler
	userID   uuid.UUID
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()

	store := domain.NewMockSubscriptionStore()
	provider := billing.NewMockProvider()

	svc := service.NewBillingService(store, provider, service.CheckoutConfig{
		ProPriceID:      "price_pro_monthly",
		TrialDays:       7,
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing/cancel",
		PortalReturnURL: "https://app.example.com/settings",
	}, nil)

	userID := uuid.New()
	authProvider := auth.NewMockProvider()
	authProvider.GetUserFunc = func(ctx context.Context, token string) (*auth.User, error) {
		if token == "valid-token" {
			return &auth.User{ID: userID, Email: "user@example.com"}, nil
		}
		return nil, auth.ErrInvalidToken
	}

	requireUser := middleware.RequireUser(authProvider)
	return &billingFixture{
		handler:  NewBillingHandler(svc, nil),
		store:    store,
		provider: provider,
		authed:   func(h http.HandlerFunc) http.Handler { return requireUser(h) },
		userID:   userID,
	}
}

func TestStartCheckoutEndpoint(t *testing.T) {
	t.Run("returns checkout URL", func(t *testing.T) {
		f := newBillingFixture(t)

		body, _ := json.Marshal(map[string]any{
			"userId": uuid.New().String(),
			"email":  "new@example.com",
			"plan":   "pro",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.StartCheckout(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp["url"], "https://checkout.stripe.com/")
	})

	t.Run("missing fields return field errors", func(t *testing.T) {
		f := newBillingFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.StartCheckout(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp struct {
			Error struct {
				Code   string            `json:"code"`
				Fields map[string]string `json:"fields"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, domain.EINVALID, resp.Error.Code)
		assert.Contains(t, resp.Error.Fields, "userId")
		assert.Contains(t, resp.Error.Fields, "email")
		assert.Contains(t, resp.Error.Fields, "plan")
	})

	t.Run("malformed user id is a validation error", func(t *testing.T) {
		f := newBillingFixture(t)

		body, _ := json.Marshal(map[string]any{
			"userId": "not-a-uuid",
			"email":  "user@example.com",
			"plan":   "pro",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.StartCheckout(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("free plan is rejected", func(t *testing.T) {
		f := newBillingFixture(t)

		body, _ := json.Marshal(map[string]any{
			"userId": uuid.New().String(),
			"email":  "user@example.com",
			"plan":   "free",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.StartCheckout(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider failure returns 500", func(t *testing.T) {
		f := newBillingFixture(t)
		f.provider.CreateCheckoutSessionFunc = func(ctx context.Context, params billing.CreateCheckoutSessionParams) (*billing.CheckoutSession, error) {
			return nil, assert.AnError
		}

		body, _ := json.Marshal(map[string]any{
			"userId": uuid.New().String(),
			"email":  "user@example.com",
			"plan":   "pro",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/billing/checkout", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.StartCheckout(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGetSubscriptionEndpoint(t *testing.T) {
	t.Run("returns stored subscription", func(t *testing.T) {
		f := newBillingFixture(t)
		periodEnd := time.Now().Add(20 * 24 * time.Hour).UTC().Truncate(time.Second)
		f.store.Subs[f.userID] = &domain.Subscription{
			UserID:           f.userID,
			Plan:             domain.PlanPro,
			Status:           domain.StatusActive,
			CurrentPeriodEnd: periodEnd,
		}

		req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		f.authed(f.handler.GetSubscription).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp subscriptionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "pro", resp.Plan)
		assert.Equal(t, "active", resp.Status)
		assert.True(t, resp.Entitled)
		require.NotNil(t, resp.CurrentPeriodEnd)
		assert.Equal(t, periodEnd.Format(time.RFC3339), *resp.CurrentPeriodEnd)
	})

	t.Run("user without billing history gets synthetic free record", func(t *testing.T) {
		f := newBillingFixture(t)

		req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		f.authed(f.handler.GetSubscription).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp subscriptionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "free", resp.Plan)
		assert.Equal(t, "canceled", resp.Status)
		assert.False(t, resp.Entitled)
		assert.Nil(t, resp.CurrentPeriodEnd)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		f := newBillingFixture(t)

		req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
		rec := httptest.NewRecorder()

		f.authed(f.handler.GetSubscription).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCreatePortalSessionEndpoint(t *testing.T) {
	t.Run("returns portal URL for billed user", func(t *testing.T) {
		f := newBillingFixture(t)
		f.store.Subs[f.userID] = &domain.Subscription{
			UserID:           f.userID,
			StripeCustomerID: "cus_123",
			Plan:             domain.PlanPro,
			Status:           domain.StatusActive,
		}

		req := httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		f.authed(f.handler.CreatePortalSession).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp["url"], "https://billing.stripe.com/")
	})

	t.Run("user without billing account gets 404", func(t *testing.T) {
		f := newBillingFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/api/billing/portal", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		rec := httptest.NewRecorder()

		f.authed(f.handler.CreatePortalSession).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
