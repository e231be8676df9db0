package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/martacalvinho/buddy-billing/internal/auth"
)

type contextKey string

const (
	// UserContextKey is the context key for storing the authenticated user
	UserContextKey contextKey = "user"
)

// RequireUser validates the bearer token on the request and stores the
// resolved user in the context. Requests without a valid token get a 401
// and never reach the handler.
func RequireUser(authProvider auth.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				respondUnauthorized(w, r)
				return
			}

			user, err := authProvider.GetUser(r.Context(), token)
			if err != nil {
				// Expired, malformed, and backend-rejected tokens all
				// look the same to the caller.
				respondUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
// Returns an empty string when the header is missing or uses another scheme.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// GetUserFromContext retrieves the authenticated user from the request context.
// Returns nil if the request did not pass through RequireUser.
func GetUserFromContext(ctx context.Context) *auth.User {
	user, ok := ctx.Value(UserContextKey).(*auth.User)
	if !ok {
		return nil
	}
	return user
}
