package gitenv

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitwarden/gitwarden/internal/settings"
)

func TestGenerateSSHConfig(t *testing.T) {
	m := newTestKeyManager(t, nil)

	path, err := m.GenerateSSHConfig([]SSHEntry{
		{Host: "git.internal", Port: 2222, IdentityFile: "/keys/b"},
		{Host: "github.com", IdentityFile: "/keys/a"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	// Sorted by host, github.com block has no Port line.
	gitInternal := strings.Index(content, "Host git.internal")
	githubCom := strings.Index(content, "Host github.com")
	require.GreaterOrEqual(t, gitInternal, 0)
	require.Greater(t, githubCom, gitInternal)

	assert.Contains(t, content, "IdentityFile /keys/b")
	assert.Contains(t, content, "Port 2222")
	assert.Contains(t, content, "IdentitiesOnly yes")
	assert.NotContains(t, content[githubCom:], "Port ")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGitSSHCommand(t *testing.T) {
	cmd := GitSSHCommand("/cfg/ssh_config", "/cfg/known_hosts")
	assert.Equal(t, "ssh -F /cfg/ssh_config -o UserKnownHostsFile=/cfg/known_hosts -o StrictHostKeyChecking=yes", cmd)
}

func TestSelectCredential(t *testing.T) {
	creds := []*settings.GitCredential{
		{ID: "gh", Host: "github.com", AuthKind: settings.AuthKindSSH, SSHPrivateKey: "k"},
		{ID: "internal", Host: "git.internal:2222", AuthKind: settings.AuthKindSSH, SSHPrivateKey: "k"},
		{ID: "pat", Host: "github.com", AuthKind: settings.AuthKindPAT, Token: "t"},
	}

	assert.Equal(t, "gh", SelectCredential(creds, "github.com", 22).ID)
	assert.Equal(t, "gh", SelectCredential(creds, "github.com", 0).ID)
	assert.Equal(t, "internal", SelectCredential(creds, "git.internal", 2222).ID)
	assert.Nil(t, SelectCredential(creds, "git.internal", 22), "port mismatch must not match")
	assert.Nil(t, SelectCredential(creds, "bitbucket.org", 22), "distinct hosts never interfere")
}

func TestSplitHostPort(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
	}{
		{"github.com", "github.com", 0},
		{"git.internal:2222", "git.internal", 2222},
		{"[git.internal]:2222", "git.internal", 2222},
		{"[git.internal]", "git.internal", 0},
	}
	for _, c := range cases {
		host, port := splitHostPort(c.in)
		assert.Equal(t, c.host, host, c.in)
		assert.Equal(t, c.port, port, c.in)
	}
}
