package routes

import (
	"net/http"

	"github.com/martacalvinho/buddy-billing/internal/auth"
	"github.com/martacalvinho/buddy-billing/internal/handler/api"
)

// APIDeps contains dependencies for the JSON API routes
type APIDeps struct {
	BillingHandler *api.BillingHandler
	AccountHandler *api.AccountHandler

	// AuthProvider backs the bearer token middleware on authenticated routes.
	AuthProvider auth.Provider
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// SystemDeps contains dependencies for health and metrics routes
type SystemDeps struct {
	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
}
