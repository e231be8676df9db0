package routes

import (
	"github.com/martacalvinho/buddy-billing/internal/middleware"
	"github.com/martacalvinho/buddy-billing/internal/router"
)

// RegisterAPIRoutes registers the JSON API.
//
// Checkout initiation is unauthenticated: the frontend calls it before the
// user has a session with us, and the user id it carries is only trusted
// once the provider echoes it back through the webhook. Everything that
// reads or mutates existing state requires a bearer token.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	r.Post("/api/billing/checkout", deps.BillingHandler.StartCheckout,
		middleware.RateLimit(middleware.DefaultRateLimiterConfig()))

	authed := r.Group(middleware.RequireUser(deps.AuthProvider))
	authed.Get("/api/billing/subscription", deps.BillingHandler.GetSubscription)
	authed.Post("/api/billing/portal", deps.BillingHandler.CreatePortalSession)

	// Destructive account operations get the strict limiter on top of auth.
	authed.Post("/api/account/cancel", deps.AccountHandler.CancelSubscription,
		middleware.RateLimit(middleware.StrictRateLimiterConfig()))
	authed.Post("/api/account/delete", deps.AccountHandler.DeleteAccount,
		middleware.RateLimit(middleware.StrictRateLimiterConfig()))
}
