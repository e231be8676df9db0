package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

// stubStripeBackend points the Stripe SDK at a local server and captures
// the form body of each request so tests can assert on the exact wire
// parameters the provider sends.
func stubStripeBackend(t *testing.T, response string) *url.Values {
	t.Helper()

	var captured url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	prev := stripe.GetBackend(stripe.APIBackend)
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:           stripe.String(srv.URL),
		HTTPClient:    srv.Client(),
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
	}))
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, prev) })

	return &captured
}

func TestStripeProviderCreateCheckoutSession(t *testing.T) {
	provider, err := NewStripeProvider(StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_123",
	})
	require.NoError(t, err)

	t.Run("carries the user id on the session itself", func(t *testing.T) {
		form := stubStripeBackend(t, `{"id":"cs_test_123","url":"https://checkout.stripe.com/c/pay/cs_test_123"}`)

		session, err := provider.CreateCheckoutSession(context.Background(), CreateCheckoutSessionParams{
			PriceID:       "price_pro_monthly",
			CustomerEmail: "user@example.com",
			SuccessURL:    "https://app.example.com/billing/success",
			CancelURL:     "https://app.example.com/pricing",
			TrialDays:     7,
			Metadata:      map[string]string{"user_id": "a1b2c3d4-0000-0000-0000-000000000001"},
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_test_123", session.ID)

		// The webhook consumer reads the user id from the session's own
		// metadata and client_reference_id. Carrying it only on the
		// subscription would leave checkout.session.completed events
		// without a user to reconcile against.
		assert.Equal(t, "a1b2c3d4-0000-0000-0000-000000000001", form.Get("client_reference_id"))
		assert.Equal(t, "a1b2c3d4-0000-0000-0000-000000000001", form.Get("metadata[user_id]"))
		assert.Equal(t, "a1b2c3d4-0000-0000-0000-000000000001", form.Get("subscription_data[metadata][user_id]"))

		assert.Equal(t, "subscription", form.Get("mode"))
		assert.Equal(t, "price_pro_monthly", form.Get("line_items[0][price]"))
		assert.Equal(t, "user@example.com", form.Get("customer_email"))
		assert.Equal(t, "7", form.Get("subscription_data[trial_period_days]"))
	})

	t.Run("appends the session id placeholder exactly once", func(t *testing.T) {
		form := stubStripeBackend(t, `{"id":"cs_test_456","url":"https://checkout.stripe.com/c/pay/cs_test_456"}`)

		_, err := provider.CreateCheckoutSession(context.Background(), CreateCheckoutSessionParams{
			PriceID:       "price_pro_monthly",
			CustomerEmail: "user@example.com",
			SuccessURL:    "https://app.example.com/billing/success",
			CancelURL:     "https://app.example.com/pricing",
			Metadata:      map[string]string{"user_id": "a1b2c3d4-0000-0000-0000-000000000001"},
		})
		require.NoError(t, err)

		successURL := form.Get("success_url")
		assert.Equal(t, "https://app.example.com/billing/success?session_id={CHECKOUT_SESSION_ID}", successURL)
		assert.Equal(t, 1, strings.Count(successURL, "session_id"))
	})

	t.Run("prefers an existing customer over an email", func(t *testing.T) {
		form := stubStripeBackend(t, `{"id":"cs_test_789","url":"https://checkout.stripe.com/c/pay/cs_test_789"}`)

		_, err := provider.CreateCheckoutSession(context.Background(), CreateCheckoutSessionParams{
			PriceID:       "price_pro_monthly",
			CustomerID:    "cus_123",
			CustomerEmail: "user@example.com",
			SuccessURL:    "https://app.example.com/billing/success",
			CancelURL:     "https://app.example.com/pricing",
			Metadata:      map[string]string{"user_id": "a1b2c3d4-0000-0000-0000-000000000001"},
		})
		require.NoError(t, err)

		assert.Equal(t, "cus_123", form.Get("customer"))
		assert.Empty(t, form.Get("customer_email"))
	})
}
