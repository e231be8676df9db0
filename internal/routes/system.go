package routes

import (
	"github.com/martacalvinho/buddy-billing/internal/router"
)

// RegisterSystemRoutes registers health and metrics endpoints.
// Both are unauthenticated; deployments are expected to keep /metrics
// off the public listener or filter it at the proxy.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	r.Get("/healthz", deps.HealthHandler)
	r.Handle("GET", "/metrics", deps.MetricsHandler)
}
