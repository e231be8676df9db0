package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// SupabaseClient implements Provider against the Supabase Auth REST API.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSupabaseClient creates a new Supabase auth client.
// anonKey is used for token introspection; serviceKey is required for
// admin operations like user deletion.
func NewSupabaseClient(baseURL, anonKey, serviceKey string, logger *slog.Logger) (*SupabaseClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid Supabase URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SupabaseClient{
		baseURL:    baseURL,
		anonKey:    anonKey,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "supabase_auth"),
	}, nil
}

// supabaseUser is the subset of GoTrue's user object we care about.
type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetUser resolves an access token via GET /auth/v1/user.
func (c *SupabaseClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("auth API error (status %d): %s", resp.StatusCode, string(body))
	}

	var su supabaseUser
	if err := json.NewDecoder(resp.Body).Decode(&su); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}

	userID, err := uuid.Parse(su.ID)
	if err != nil {
		return nil, fmt.Errorf("auth returned invalid user id %q: %w", su.ID, err)
	}

	return &User{ID: userID, Email: su.Email}, nil
}

// DeleteUser removes a user via DELETE /auth/v1/admin/users/{id}.
// Uses the service role key since this is an admin operation.
func (c *SupabaseClient) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if c.serviceKey == "" {
		return fmt.Errorf("auth: service role key required for user deletion")
	}

	endpoint := fmt.Sprintf("%s/auth/v1/admin/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("auth API error (status %d): %s", resp.StatusCode, string(body))
	}

	c.logger.Info("auth user deleted", "user_id", userID)
	return nil
}
