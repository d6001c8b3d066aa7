package hosttrust

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
)

// ScannedKey is one host key reported by a scan.
type ScannedKey struct {
	KeyType   string
	PublicKey string
}

// KeyScanner fetches a remote host's public keys without connecting
// interactively.
type KeyScanner interface {
	Scan(ctx context.Context, host string, port int) ([]ScannedKey, error)
}

// execScanner shells out to ssh-keyscan with a hard timeout. The subprocess
// is killed when the deadline passes.
type execScanner struct {
	timeout time.Duration
}

// NewKeyScanner creates the default ssh-keyscan backed scanner.
func NewKeyScanner(timeout time.Duration) KeyScanner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &execScanner{timeout: timeout}
}

func (s *execScanner) Scan(ctx context.Context, host string, port int) ([]ScannedKey, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{"-T", strconv.Itoa(int(s.timeout.Seconds()))}
	if port != 0 && port != 22 {
		args = append(args, "-p", strconv.Itoa(port))
	}
	args = append(args, host)

	var stdout bytes.Buffer
	cmd := exec.CommandContext(scanCtx, "ssh-keyscan", args...)
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if scanCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Timeout(fmt.Sprintf("key scan of %s timed out", host))
		}
		return nil, apperrors.Process(fmt.Sprintf("ssh-keyscan failed for %s", host), err)
	}

	keys := parseScanOutput(stdout.Bytes())
	if len(keys) == 0 {
		return nil, apperrors.Process(fmt.Sprintf("ssh-keyscan returned no usable keys for %s", host), nil)
	}
	return keys, nil
}

// parseScanOutput extracts validated keys from ssh-keyscan output lines of
// the form "host keytype base64key". Comment lines and anything that fails
// to parse as an authorized key are dropped.
func parseScanOutput(out []byte) []ScannedKey {
	var keys []ScannedKey
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		keyType, keyData := fields[1], fields[2]
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(keyType + " " + keyData)); err != nil {
			continue
		}
		keys = append(keys, ScannedKey{KeyType: keyType, PublicKey: keyData})
	}
	return keys
}
