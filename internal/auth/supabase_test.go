package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupabaseGetUser(t *testing.T) {
	userID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		switch r.Header.Get("Authorization") {
		case "Bearer good-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"` + userID.String() + `","email":"user@example.com"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid JWT"}`))
		}
	}))
	defer server.Close()

	client, err := NewSupabaseClient(server.URL, "anon-key", "service-key", nil)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		user, err := client.GetUser(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, userID, user.ID)
		assert.Equal(t, "user@example.com", user.Email)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := client.GetUser(context.Background(), "bad-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := client.GetUser(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSupabaseDeleteUser(t *testing.T) {
	existingID := uuid.New()
	missingID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/auth/v1/admin/users/" + existingID.String():
			w.WriteHeader(http.StatusOK)
		case "/auth/v1/admin/users/" + missingID.String():
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	client, err := NewSupabaseClient(server.URL, "anon-key", "service-key", nil)
	require.NoError(t, err)

	t.Run("existing user", func(t *testing.T) {
		assert.NoError(t, client.DeleteUser(context.Background(), existingID))
	})

	t.Run("missing user", func(t *testing.T) {
		err := client.DeleteUser(context.Background(), missingID)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("missing service key", func(t *testing.T) {
		noKey, err := NewSupabaseClient(server.URL, "anon-key", "", nil)
		require.NoError(t, err)
		assert.Error(t, noKey.DeleteUser(context.Background(), existingID))
	})
}
