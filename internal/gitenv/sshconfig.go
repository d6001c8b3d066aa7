package gitenv

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gitwarden/gitwarden/internal/settings"
)

// SSHEntry describes one host block in the generated ssh config.
type SSHEntry struct {
	Host         string
	Port         int // 0 or 22 means default
	IdentityFile string
}

// GenerateSSHConfig writes per-host blocks to the manager's config path and
// returns that path. Entries are sorted so the file is deterministic.
func (m *KeyManager) GenerateSSHConfig(entries []SSHEntry) (string, error) {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}

	sorted := make([]SSHEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Host != sorted[j].Host {
			return sorted[i].Host < sorted[j].Host
		}
		return sorted[i].Port < sorted[j].Port
	})

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "Host %s\n", e.Host)
		fmt.Fprintf(&b, "  IdentityFile %s\n", e.IdentityFile)
		b.WriteString("  IdentitiesOnly yes\n")
		if e.Port != 0 && e.Port != 22 {
			fmt.Fprintf(&b, "  Port %d\n", e.Port)
		}
		b.WriteString("\n")
	}

	path := m.ConfigPath()
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return "", fmt.Errorf("write ssh config: %w", err)
	}
	return path, nil
}

// GitSSHCommand builds the GIT_SSH_COMMAND value pointing git at the
// generated config and the gitwarden-managed known-hosts file. Host key
// checking stays strict; trust decisions happen through the trust gateway.
func GitSSHCommand(configPath, knownHostsPath string) string {
	return fmt.Sprintf("ssh -F %s -o UserKnownHostsFile=%s -o StrictHostKeyChecking=yes",
		configPath, knownHostsPath)
}

// SelectCredential finds the SSH credential for host[:port]. An exact
// host:port match wins over a bare hostname match; credentials for other
// hosts never leak across.
func SelectCredential(creds []*settings.GitCredential, host string, port int) *settings.GitCredential {
	var exact, fallback *settings.GitCredential
	target := host
	if port != 0 && port != 22 {
		target = host + ":" + strconv.Itoa(port)
	}

	for _, cred := range creds {
		if cred.AuthKind != settings.AuthKindSSH {
			continue
		}
		if cred.Host == target {
			exact = cred
			break
		}
		credHost, credPort := splitHostPort(cred.Host)
		if credHost == host && normalizePort(credPort) == normalizePort(port) && fallback == nil {
			fallback = cred
		}
	}
	if exact != nil {
		return exact
	}
	return fallback
}

func normalizePort(port int) int {
	if port == 0 {
		return 22
	}
	return port
}

// splitHostPort parses "host", "host:port", and "[host]:port" forms.
// Port 0 means unspecified.
func splitHostPort(s string) (string, int) {
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "]:"); end > 0 {
			if port, err := strconv.Atoi(s[end+2:]); err == nil {
				return s[1:end], port
			}
		}
		return strings.Trim(s, "[]"), 0
	}
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		if port, err := strconv.Atoi(s[i+1:]); err == nil {
			return s[:i], port
		}
	}
	return s, 0
}
