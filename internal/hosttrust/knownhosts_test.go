package hosttrust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderKnownHostsDeterministic(t *testing.T) {
	a := []*TrustedHost{
		{HostKey: "github.com", KeyType: "ssh-rsa", PublicKey: "RSAKEY"},
		{HostKey: "[git.internal]:2222", KeyType: "ssh-ed25519", PublicKey: "EDKEY"},
		{HostKey: "github.com", KeyType: "ssh-ed25519", PublicKey: "EDKEY2"},
	}
	b := []*TrustedHost{a[2], a[0], a[1]}

	rendered := RenderKnownHosts(a)
	assert.Equal(t, rendered, RenderKnownHosts(b), "order of input must not matter")

	expected := "[git.internal]:2222 ssh-ed25519 EDKEY\n" +
		"github.com ssh-ed25519 EDKEY2\n" +
		"github.com ssh-rsa RSAKEY\n"
	assert.Equal(t, expected, rendered)
}

func TestRenderKnownHostsEmpty(t *testing.T) {
	assert.Empty(t, RenderKnownHosts(nil))
}

func TestParseRemoteHost(t *testing.T) {
	cases := []struct {
		ref     string
		host    string
		port    int
		wantErr bool
	}{
		{"git@github.com:org/repo.git", "github.com", 0, false},
		{"github.com:org/repo.git", "github.com", 0, false},
		{"ssh://git@git.internal:2222/repo.git", "git.internal", 2222, false},
		{"ssh://git.internal/repo.git", "git.internal", 0, false},
		{"git@[git.internal]:2222:org/repo.git", "git.internal", 2222, false},
		{"https://github.com/org/repo", "", 0, true},
		{"", "", 0, true},
		{"not a ref", "", 0, true},
	}
	for _, c := range cases {
		host, port, err := ParseRemoteHost(c.ref)
		if c.wantErr {
			assert.Error(t, err, c.ref)
			continue
		}
		assert.NoError(t, err, c.ref)
		assert.Equal(t, c.host, host, c.ref)
		assert.Equal(t, c.port, port, c.ref)
	}
}

func TestCanonicalHostKey(t *testing.T) {
	assert.Equal(t, "github.com", CanonicalHostKey("github.com", 0))
	assert.Equal(t, "github.com", CanonicalHostKey("github.com", 22))
	assert.Equal(t, "[git.internal]:2222", CanonicalHostKey("git.internal", 2222))
}

func TestParseScanOutput(t *testing.T) {
	out := []byte("# github.com:22 SSH-2.0-babeld\n" +
		"github.com ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGJ5dGVzYnl0ZXNieXRlc2J5dGVzYnl0ZXNieXRlc2J5\n" +
		"github.com bogus-type notakey\n" +
		"\n")

	keys := parseScanOutput(out)
	assert.Len(t, keys, 1)
	assert.Equal(t, "ssh-ed25519", keys[0].KeyType)
}
