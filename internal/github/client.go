// Package github provides a minimal GitHub REST client used to derive the
// commit identity for token-based credentials.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
)

const apiBase = "https://api.github.com"

// User is the authenticated GitHub user.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Name  string `json:"name"`
}

// Client calls the GitHub REST API with a Personal Access Token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a PAT-based GitHub client.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: apiBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL overrides the API base, for GitHub Enterprise hosts and tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// AuthenticatedUser returns the user the token belongs to.
func (c *Client) AuthenticatedUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.get(ctx, "/user", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// PrimaryEmail returns the user's primary verified email, or "" when the
// token lacks the user:email scope or no primary email is set.
func (c *Client) PrimaryEmail(ctx context.Context) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := c.get(ctx, "/user/emails", &emails); err != nil {
		// Missing scope surfaces as 403/404; treat as "no email available".
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return "", nil
		}
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.Authentication("GitHub token rejected", nil)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return apperrors.NotFound("github endpoint", endpoint)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GitHub API %s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
