package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// User is the identity resolved from an access token.
type User struct {
	ID    uuid.UUID
	Email string
}

// Provider defines the interface for the authentication backend.
// The production implementation talks to Supabase Auth; tests use
// MockProvider.
type Provider interface {
	// GetUser resolves an access token to the user it belongs to.
	// Returns ErrInvalidToken for expired or malformed tokens.
	GetUser(ctx context.Context, accessToken string) (*User, error)

	// DeleteUser permanently removes a user's identity. Requires
	// service-level credentials. Returns ErrUserNotFound when the
	// user does not exist.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

var (
	// ErrInvalidToken is returned when an access token is expired or malformed.
	ErrInvalidToken = errors.New("auth: invalid or expired access token")

	// ErrUserNotFound is returned when the auth backend has no such user.
	ErrUserNotFound = errors.New("auth: user not found")
)
