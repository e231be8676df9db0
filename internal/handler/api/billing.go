package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/martacalvinho/buddy-billing/internal/domain"
	"github.com/martacalvinho/buddy-billing/internal/handler"
	"github.com/martacalvinho/buddy-billing/internal/middleware"
	"github.com/martacalvinho/buddy-billing/internal/service"
)

// BillingHandler serves the checkout, subscription read, and portal endpoints.
type BillingHandler struct {
	billing *service.BillingService
	logger  *slog.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(billing *service.BillingService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing: billing,
		logger:  logger.With("component", "billing_api"),
	}
}

// checkoutRequest is the body for POST /api/billing/checkout.
type checkoutRequest struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Plan      string `json:"plan"`
	TrialDays *int64 `json:"trialDays,omitempty"`
}

// StartCheckout handles POST /api/billing/checkout.
// Creates a provider checkout session and returns its URL. The frontend
// redirects the user there; the subscription row is written only when the
// provider confirms completion via webhook.
func (h *BillingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "billing.checkout", "Invalid request body"))
		return
	}

	var validationErr error
	if req.UserID == "" {
		validationErr = domain.AddFieldError(validationErr, "userId", "userId is required")
	}
	if req.Email == "" {
		validationErr = domain.AddFieldError(validationErr, "email", "email is required")
	}
	if req.Plan == "" {
		validationErr = domain.AddFieldError(validationErr, "plan", "plan is required")
	}
	if validationErr != nil {
		handler.ValidationErrorResponse(w, r, validationErr)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError("billing.checkout", "userId", "userId must be a valid UUID"))
		return
	}

	session, err := h.billing.StartCheckout(r.Context(), service.StartCheckoutParams{
		UserID:    userID,
		Email:     req.Email,
		Plan:      domain.Plan(req.Plan),
		TrialDays: req.TrialDays,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

// subscriptionResponse is the body for GET /api/billing/subscription.
type subscriptionResponse struct {
	UserID           string  `json:"userId"`
	Plan             string  `json:"plan"`
	Status           string  `json:"status"`
	CurrentPeriodEnd *string `json:"currentPeriodEnd"`
	Entitled         bool    `json:"entitled"`
}

// GetSubscription handles GET /api/billing/subscription.
// Requires a bearer token. Users with no billing history get a synthetic
// free record rather than a 404.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	sub, err := h.billing.GetSubscription(r.Context(), user.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	resp := subscriptionResponse{
		UserID:   sub.UserID.String(),
		Plan:     string(sub.Plan),
		Status:   string(sub.Status),
		Entitled: sub.IsEntitled(),
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		resp.CurrentPeriodEnd = &end
	}

	respondJSON(w, http.StatusOK, resp)
}

// CreatePortalSession handles POST /api/billing/portal.
// Returns the URL of a provider-hosted portal where the user manages
// payment methods and invoices. 404 when the user has no billing account.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), user.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
