package api

import (
	"log/slog"
	"net/http"

	"github.com/martacalvinho/buddy-billing/internal/handler"
	"github.com/martacalvinho/buddy-billing/internal/middleware"
	"github.com/martacalvinho/buddy-billing/internal/service"
)

// AccountHandler serves subscription cancellation and account deletion.
type AccountHandler struct {
	account *service.AccountService
	logger  *slog.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(account *service.AccountService, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{
		account: account,
		logger:  logger.With("component", "account_api"),
	}
}

// CancelSubscription handles POST /api/account/cancel.
// Marks the subscription canceled locally and asks the provider to stop
// billing at the period end. Idempotent; canceling an already canceled
// or missing subscription still succeeds.
func (h *AccountHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	if err := h.account.CancelSubscription(r.Context(), user.ID); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// deleteAccountResponse is the body for POST /api/account/delete.
type deleteAccountResponse struct {
	Success             bool `json:"success"`
	AuthDeleted         bool `json:"authDeleted"`
	SubscriptionDeleted bool `json:"subscriptionDeleted"`
}

// DeleteAccount handles POST /api/account/delete.
// Cancels provider billing, deletes the auth identity, then removes the
// local subscription row. A failed row delete is reported in the body
// rather than failing the request, since the identity is already gone.
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	result, err := h.account.DeleteAccount(r.Context(), user.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, deleteAccountResponse{
		Success:             true,
		AuthDeleted:         result.AuthDeleted,
		SubscriptionDeleted: result.SubscriptionDeleted,
	})
}
