package gitenv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/github"
	"github.com/gitwarden/gitwarden/internal/settings"
)

type fakeUserSource struct {
	user     *github.User
	email    string
	userErr  error
	emailErr error
}

func (f *fakeUserSource) AuthenticatedUser(ctx context.Context) (*github.User, error) {
	return f.user, f.userErr
}

func (f *fakeUserSource) PrimaryEmail(ctx context.Context) (string, error) {
	return f.email, f.emailErr
}

func testResolver(t *testing.T, src *fakeUserSource) *IdentityResolver {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return NewIdentityResolver(func(token string) GitHubUserSource { return src }, log)
}

func githubPAT() []*settings.GitCredential {
	return []*settings.GitCredential{
		{Host: "github.com", AuthKind: settings.AuthKindPAT, Token: "ghp_x"},
	}
}

func TestBuildIdentityEnvManualWins(t *testing.T) {
	r := testResolver(t, &fakeUserSource{userErr: errors.New("should not be called")})

	env := r.BuildIdentityEnv(context.Background(), &settings.GitIdentity{Name: "Dev", Email: "dev@example.com"}, githubPAT())
	assert.ElementsMatch(t, []string{
		"GIT_AUTHOR_NAME=Dev",
		"GIT_COMMITTER_NAME=Dev",
		"GIT_AUTHOR_EMAIL=dev@example.com",
		"GIT_COMMITTER_EMAIL=dev@example.com",
	}, env)
}

func TestBuildIdentityEnvDerivedFromToken(t *testing.T) {
	r := testResolver(t, &fakeUserSource{
		user:  &github.User{Login: "octocat", ID: 583231, Name: "The Octocat"},
		email: "octo@example.com",
	})

	env := r.BuildIdentityEnv(context.Background(), &settings.GitIdentity{}, githubPAT())
	assert.Contains(t, env, "GIT_AUTHOR_NAME=The Octocat")
	assert.Contains(t, env, "GIT_COMMITTER_EMAIL=octo@example.com")
}

func TestBuildIdentityEnvNoreplyFallback(t *testing.T) {
	r := testResolver(t, &fakeUserSource{
		user: &github.User{Login: "octocat", ID: 583231},
	})

	env := r.BuildIdentityEnv(context.Background(), nil, githubPAT())
	assert.Contains(t, env, "GIT_AUTHOR_NAME=octocat")
	assert.Contains(t, env, "GIT_AUTHOR_EMAIL=583231+octocat@users.noreply.github.com")
}

func TestBuildIdentityEnvEmptyWhenNothingAvailable(t *testing.T) {
	r := testResolver(t, &fakeUserSource{userErr: errors.New("boom")})

	env := r.BuildIdentityEnv(context.Background(), nil, githubPAT())
	assert.Empty(t, env)

	env = r.BuildIdentityEnv(context.Background(), nil, nil)
	assert.Empty(t, env)
}

func TestBuildIdentityEnvPartialManual(t *testing.T) {
	r := testResolver(t, &fakeUserSource{
		user:  &github.User{Login: "octocat", ID: 1},
		email: "octo@example.com",
	})

	env := r.BuildIdentityEnv(context.Background(), &settings.GitIdentity{Name: "Manual Name"}, githubPAT())
	assert.Contains(t, env, "GIT_AUTHOR_NAME=Manual Name")
	assert.Contains(t, env, "GIT_AUTHOR_EMAIL=octo@example.com")
}
