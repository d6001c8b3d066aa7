package hosttrust

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gitwarden/gitwarden/internal/common/logger"
)

// KnownHostsFile maintains the OpenSSH known_hosts file the agent's git SSH
// operations read. The file is never edited in place; it is fully rebuilt
// from the store so removing trust in the database removes it on disk too.
type KnownHostsFile struct {
	path   string
	store  Store
	logger *logger.Logger
}

// NewKnownHostsFile creates the known-hosts writer for the given path.
func NewKnownHostsFile(path string, store Store, log *logger.Logger) *KnownHostsFile {
	return &KnownHostsFile{path: path, store: store, logger: log}
}

// Path returns the known-hosts file location.
func (k *KnownHostsFile) Path() string { return k.path }

// Rebuild rewrites the file from the store. Failures are logged, not
// returned; a stale known-hosts file degrades to stricter-than-necessary
// SSH behavior, which is safe.
func (k *KnownHostsFile) Rebuild(ctx context.Context) {
	hosts, err := k.store.List(ctx)
	if err != nil {
		k.logger.Warn("failed to load trusted hosts for known_hosts rebuild", zap.Error(err))
		return
	}

	content := RenderKnownHosts(hosts)
	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		k.logger.Warn("failed to create known_hosts dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(k.path, []byte(content), 0600); err != nil {
		k.logger.Warn("failed to write known_hosts", zap.String("path", k.path), zap.Error(err))
	}
}

// RenderKnownHosts renders hosts in deterministic order. Identical stored
// sets always produce byte-identical files.
func RenderKnownHosts(hosts []*TrustedHost) string {
	sorted := make([]*TrustedHost, len(hosts))
	copy(sorted, hosts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].HostKey != sorted[j].HostKey {
			return sorted[i].HostKey < sorted[j].HostKey
		}
		return sorted[i].KeyType < sorted[j].KeyType
	})

	var b strings.Builder
	for _, h := range sorted {
		b.WriteString(h.HostKey)
		b.WriteByte(' ')
		b.WriteString(h.KeyType)
		b.WriteByte(' ')
		b.WriteString(h.PublicKey)
		b.WriteByte('\n')
	}
	return b.String()
}
