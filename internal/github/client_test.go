package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
)

func TestAuthenticatedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/user", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"octocat","id":583231,"name":"The Octocat"}`))
	}))
	defer srv.Close()

	client := NewClient("test-token").WithBaseURL(srv.URL)
	user, err := client.AuthenticatedUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, int64(583231), user.ID)
	assert.Equal(t, "The Octocat", user.Name)
}

func TestAuthenticatedUserBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("bad").WithBaseURL(srv.URL)
	_, err := client.AuthenticatedUser(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuthentication))
}

func TestPrimaryEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/emails", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"email":"alt@example.com","primary":false,"verified":true},
			{"email":"primary@example.com","primary":true,"verified":true}
		]`))
	}))
	defer srv.Close()

	client := NewClient("test-token").WithBaseURL(srv.URL)
	email, err := client.PrimaryEmail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary@example.com", email)
}

func TestPrimaryEmailMissingScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient("test-token").WithBaseURL(srv.URL)
	email, err := client.PrimaryEmail(context.Background())
	require.NoError(t, err)
	assert.Empty(t, email)
}
