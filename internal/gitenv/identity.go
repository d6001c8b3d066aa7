package gitenv

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/github"
	"github.com/gitwarden/gitwarden/internal/settings"
)

// GitHubUserSource fetches the identity behind a GitHub token. Satisfied by
// *github.Client; injectable for tests.
type GitHubUserSource interface {
	AuthenticatedUser(ctx context.Context) (*github.User, error)
	PrimaryEmail(ctx context.Context) (string, error)
}

// GitHubClientFactory builds a user source for a token.
type GitHubClientFactory func(token string) GitHubUserSource

// DefaultGitHubClientFactory uses the real GitHub API.
func DefaultGitHubClientFactory(token string) GitHubUserSource {
	return github.NewClient(token)
}

// IdentityResolver resolves the commit identity to inject into the agent
// environment.
type IdentityResolver struct {
	factory GitHubClientFactory
	logger  *logger.Logger
}

// NewIdentityResolver creates a resolver backed by the given client factory.
func NewIdentityResolver(factory GitHubClientFactory, log *logger.Logger) *IdentityResolver {
	if factory == nil {
		factory = DefaultGitHubClientFactory
	}
	return &IdentityResolver{factory: factory, logger: log}
}

// BuildIdentityEnv returns GIT_AUTHOR_* and GIT_COMMITTER_* variables.
//
// A manually configured identity wins. Otherwise the identity is derived from
// the first github.com token credential: fetched display name (login as
// fallback) and verified primary email, falling back to the noreply address
// {id}+{login}@users.noreply.<host>. With neither source available the
// result is empty and the agent decides.
func (r *IdentityResolver) BuildIdentityEnv(ctx context.Context, identity *settings.GitIdentity, creds []*settings.GitCredential) []string {
	name, email := "", ""
	if identity != nil {
		name, email = identity.Name, identity.Email
	}

	if name == "" || email == "" {
		derivedName, derivedEmail := r.deriveFromGitHub(ctx, creds)
		if name == "" {
			name = derivedName
		}
		if email == "" {
			email = derivedEmail
		}
	}

	var env []string
	if name != "" {
		env = append(env, "GIT_AUTHOR_NAME="+name, "GIT_COMMITTER_NAME="+name)
	}
	if email != "" {
		env = append(env, "GIT_AUTHOR_EMAIL="+email, "GIT_COMMITTER_EMAIL="+email)
	}
	return env
}

func (r *IdentityResolver) deriveFromGitHub(ctx context.Context, creds []*settings.GitCredential) (string, string) {
	cred := firstGitHubToken(creds)
	if cred == nil {
		return "", ""
	}

	client := r.factory(cred.Token)
	user, err := client.AuthenticatedUser(ctx)
	if err != nil {
		r.logger.Warn("failed to derive identity from GitHub token",
			zap.String("host", cred.Host), zap.Error(err))
		return "", ""
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	email, err := client.PrimaryEmail(ctx)
	if err != nil {
		r.logger.Warn("failed to fetch primary email", zap.Error(err))
	}
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.%s", user.ID, user.Login, hostOnly(cred.Host))
	}
	return name, email
}

func firstGitHubToken(creds []*settings.GitCredential) *settings.GitCredential {
	for _, cred := range creds {
		if cred.AuthKind == settings.AuthKindPAT && cred.Token != "" && hostOnly(cred.Host) == "github.com" {
			return cred
		}
	}
	return nil
}

func hostOnly(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
