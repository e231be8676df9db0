package auth

import (
	"context"

	"github.com/google/uuid"
)

// MockProvider is a mock auth provider for testing.
type MockProvider struct {
	// GetUserFunc allows customizing token resolution behavior
	GetUserFunc func(ctx context.Context, accessToken string) (*User, error)

	// DeleteUserFunc allows customizing user deletion behavior
	DeleteUserFunc func(ctx context.Context, userID uuid.UUID) error

	// Users maps access tokens to users for default behavior
	Users map[string]*User

	// Deleted records ids passed to DeleteUser
	Deleted []uuid.UUID
}

// NewMockProvider creates a new mock auth provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Users: make(map[string]*User),
	}
}

// GetUser resolves a token from the Users map.
func (m *MockProvider) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, accessToken)
	}

	user, exists := m.Users[accessToken]
	if !exists {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// DeleteUser records the deletion.
func (m *MockProvider) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if m.DeleteUserFunc != nil {
		return m.DeleteUserFunc(ctx, userID)
	}

	m.Deleted = append(m.Deleted, userID)
	return nil
}
