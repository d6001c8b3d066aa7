package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// ServerSecretFile is the filename for the server secret under the data dir.
	ServerSecretFile = "server.secret"
	// serverSecretSize is the number of random bytes backing a generated secret.
	serverSecretSize = 32
)

// LoadServerSecret loads the server secret from the data directory, generating
// and persisting one on first run. The file is hex-encoded and written 0600.
func LoadServerSecret(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, ServerSecretFile)

	data, err := os.ReadFile(path)
	if err == nil && len(data) > 0 {
		return data, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read server secret: %w", err)
	}

	raw := make([]byte, serverSecretSize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate server secret: %w", err)
	}
	secret := []byte(hex.EncodeToString(raw))

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("write server secret: %w", err)
	}
	return secret, nil
}
