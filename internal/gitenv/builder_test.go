package gitenv

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitwarden/gitwarden/internal/settings"
)

func TestBuildGitEnvGitHubToken(t *testing.T) {
	env := BuildGitEnv([]*settings.GitCredential{
		{Host: "github.com", AuthKind: settings.AuthKindPAT, Token: "ghp_tok"},
	})

	expected := base64.StdEncoding.EncodeToString([]byte("x-access-token:ghp_tok"))
	require.Equal(t, []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.https://github.com/.extraheader",
		"GIT_CONFIG_VALUE_0=Authorization: basic " + expected,
	}, env)
}

func TestBuildGitEnvUsernamePrecedence(t *testing.T) {
	cases := []struct {
		name string
		cred *settings.GitCredential
		user string
	}{
		{"explicit username wins", &settings.GitCredential{Host: "github.com", AuthKind: settings.AuthKindPAT, Username: "me", Token: "t"}, "me"},
		{"github convention", &settings.GitCredential{Host: "github.com", AuthKind: settings.AuthKindPAT, Token: "t"}, "x-access-token"},
		{"gitlab oauth2", &settings.GitCredential{Host: "gitlab.example.com", AuthKind: settings.AuthKindPAT, Token: "t"}, "oauth2"},
		{"unknown host oauth2", &settings.GitCredential{Host: "git.internal", AuthKind: settings.AuthKindPAT, Token: "t"}, "oauth2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			directives := AuthDirectives([]*settings.GitCredential{tc.cred})
			require.Len(t, directives, 1)
			expected := base64.StdEncoding.EncodeToString([]byte(tc.user + ":t"))
			assert.Equal(t, "Authorization: basic "+expected, directives[0].Value)
		})
	}
}

func TestBuildGitEnvSkipsIncomplete(t *testing.T) {
	env := BuildGitEnv([]*settings.GitCredential{
		{Host: "", AuthKind: settings.AuthKindPAT, Token: "t"},
		{Host: "github.com", AuthKind: settings.AuthKindPAT, Token: ""},
		{Host: "github.com", AuthKind: settings.AuthKindSSH, SSHPrivateKey: "key"},
	})
	assert.Nil(t, env)
}

func TestBuildGitEnvMultipleHosts(t *testing.T) {
	env := BuildGitEnv([]*settings.GitCredential{
		{Host: "github.com", AuthKind: settings.AuthKindPAT, Token: "a"},
		{Host: "gitlab.example.com", AuthKind: settings.AuthKindPAT, Token: "b"},
	})
	require.Len(t, env, 5)
	assert.Equal(t, "GIT_CONFIG_COUNT=2", env[0])
	assert.Contains(t, env[3], "GIT_CONFIG_KEY_1=http.https://gitlab.example.com/.extraheader")
}
