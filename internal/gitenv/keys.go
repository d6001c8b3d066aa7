package gitenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/settings"
)

const (
	ephemeralPrefix  = "ephemeral-"
	persistentPrefix = "persistent-"
	sshConfigName    = "ssh_config"
)

// KeyTool mutates key files on disk. The default shells out to ssh-keygen;
// tests substitute a fake.
type KeyTool interface {
	// StripPassphrase rewrites the key at path without a passphrase.
	StripPassphrase(ctx context.Context, path, passphrase string) error
}

type sshKeygenTool struct{}

func (sshKeygenTool) StripPassphrase(ctx context.Context, path, passphrase string) error {
	cmd := exec.CommandContext(ctx, "ssh-keygen", "-p", "-P", passphrase, "-N", "", "-f", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return apperrors.Process(fmt.Sprintf("ssh-keygen failed: %s", strings.TrimSpace(string(out))), err)
	}
	return nil
}

// KeyManager materializes SSH private keys under a private directory and
// generates the ssh config the agent's git operations use.
type KeyManager struct {
	dir    string
	tool   KeyTool
	logger *logger.Logger
}

// NewKeyManager creates a key manager rooted at dir. The directory is
// created 0700 on first write.
func NewKeyManager(dir string, tool KeyTool, log *logger.Logger) *KeyManager {
	if tool == nil {
		tool = sshKeygenTool{}
	}
	return &KeyManager{dir: dir, tool: tool, logger: log}
}

// Dir returns the key directory.
func (m *KeyManager) Dir() string { return m.dir }

// ConfigPath returns the generated ssh config path.
func (m *KeyManager) ConfigPath() string { return filepath.Join(m.dir, sshConfigName) }

// WriteEphemeralKey writes key material for a single operation. The caller
// removes it when done.
func (m *KeyManager) WriteEphemeralKey(name, material string) (string, error) {
	return m.writeKey(ephemeralPrefix+sanitizeName(name), material)
}

// WritePersistentKey writes key material that survives until CleanupPersistent.
func (m *KeyManager) WritePersistentKey(name, material string) (string, error) {
	return m.writeKey(persistentPrefix+sanitizeName(name), material)
}

func (m *KeyManager) writeKey(name, material string) (string, error) {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}

	path := filepath.Join(m.dir, name)
	if !strings.HasSuffix(material, "\n") {
		material += "\n"
	}
	if err := os.WriteFile(path, []byte(material), 0600); err != nil {
		return "", fmt.Errorf("write key: %w", err)
	}

	if err := validateKeyMaterial(material); err != nil {
		// Never leave unvalidated material on disk.
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// validateKeyMaterial accepts PEM-framed private keys and OpenSSH
// authorized-key formatted public keys. Anything else is rejected.
func validateKeyMaterial(material string) error {
	trimmed := strings.TrimSpace(material)
	if trimmed == "" {
		return apperrors.Validation("key material is empty")
	}

	if strings.HasPrefix(trimmed, "-----BEGIN ") {
		if !strings.Contains(trimmed, "-----END ") {
			return apperrors.Validation("key material has a PEM header but no footer")
		}
		return nil
	}

	for _, prefix := range []string{"ssh-rsa ", "ssh-ed25519 ", "ssh-dss ", "ecdsa-sha2-", "sk-ssh-ed25519@openssh.com ", "sk-ecdsa-sha2-"} {
		if strings.HasPrefix(trimmed, prefix) {
			if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(trimmed)); err != nil {
				return apperrors.Validation("public key material failed to parse")
			}
			return nil
		}
	}
	return apperrors.Validation("key material is neither a PEM private key nor a recognized public key")
}

// MaterializeSSH writes persistent keys for every SSH credential and returns
// ssh config entries for them. Keys with a passphrase are rewritten without
// one so non-interactive git can use them; plaintext passphrases never touch
// disk or logs.
func (m *KeyManager) MaterializeSSH(ctx context.Context, creds []*settings.GitCredential) ([]SSHEntry, error) {
	var entries []SSHEntry
	for _, cred := range creds {
		if cred.AuthKind != settings.AuthKindSSH || cred.SSHPrivateKey == "" || cred.Host == "" {
			continue
		}

		path, err := m.WritePersistentKey(cred.ID, cred.SSHPrivateKey)
		if err != nil {
			m.logger.Warn("skipping ssh credential with invalid key material",
				zap.String("credential_id", cred.ID), zap.Error(err))
			continue
		}

		if cred.Passphrase != "" {
			if err := m.tool.StripPassphrase(ctx, path, cred.Passphrase); err != nil {
				_ = os.Remove(path)
				m.logger.Warn("failed to strip key passphrase, skipping credential",
					zap.String("credential_id", cred.ID), zap.Error(err))
				continue
			}
		}

		host, port := splitHostPort(cred.Host)
		entries = append(entries, SSHEntry{Host: host, Port: port, IdentityFile: path})
	}
	return entries, nil
}

// CleanupPersistent removes persistent keys and the generated ssh config.
func (m *KeyManager) CleanupPersistent() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read key dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, persistentPrefix) || name == sshConfigName {
			if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
				m.logger.Warn("failed to remove key file", zap.String("file", name), zap.Error(err))
			}
		}
	}
	return nil
}

// sanitizeName keeps key filenames flat and shell-safe.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
