package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/martacalvinho/buddy-billing/internal/domain"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.EINTERNAL:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON error envelope: {"error": {"code", "message"}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorResponse writes an error to the response, using JSON for API
// clients and plain text otherwise. Internal error details are never
// exposed to the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := ErrorCodeToHTTPStatus(code)

	if code == domain.EINTERNAL {
		message = "An internal error occurred. Please try again later."
	}

	if acceptsJSON(r) {
		writeJSONError(w, status, errorDetail{Code: code, Message: message})
		return
	}

	http.Error(w, message, status)
}

// ValidationErrorResponse writes a validation error with per-field
// messages. Non-validation errors fall back to ErrorResponse.
func ValidationErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if !domain.IsValidationError(err) {
		ErrorResponse(w, r, err)
		return
	}

	fields := domain.GetValidationFields(err)

	if acceptsJSON(r) {
		writeJSONError(w, http.StatusBadRequest, errorDetail{
			Code:    domain.EINVALID,
			Message: "Validation failed",
			Fields:  fields,
		})
		return
	}

	http.Error(w, err.Error(), http.StatusBadRequest)
}

// NotFoundResponse writes a generic 404.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

// UnauthorizedResponse writes a generic 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// ForbiddenResponse writes a generic 403.
func ForbiddenResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EFORBIDDEN, "", "You do not have permission to access this resource"))
}

// InternalErrorResponse writes a generic 500. The underlying error is
// for the caller to log; it is not sent to the client.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "internal error"))
}

func writeJSONError(w http.ResponseWriter, status int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// acceptsJSON reports whether the client wants a JSON response. API and
// webhook routes are JSON regardless of request headers.
func acceptsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/webhooks/") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.HasSuffix(r.URL.Path, ".json")
}
