package hosttrust

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
)

type sqliteStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Store = (*sqliteStore)(nil)

// Provide creates the SQLite trusted-hosts store using separate writer and
// reader pools.
func Provide(writer, reader *sqlx.DB) (Store, error) {
	store := &sqliteStore{db: writer, ro: reader}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("hosttrust schema init: %w", err)
	}
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trusted_hosts (
		host_key   TEXT NOT NULL,
		key_type   TEXT NOT NULL,
		public_key TEXT NOT NULL,
		since      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (host_key, key_type)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) Add(ctx context.Context, host *TrustedHost) error {
	if host.Since.IsZero() {
		host.Since = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_hosts (host_key, key_type, public_key, since)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host_key, key_type) DO UPDATE SET public_key = excluded.public_key, since = excluded.since`,
		host.HostKey, host.KeyType, host.PublicKey, host.Since,
	)
	if err != nil {
		return apperrors.Store("add trusted host", err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*TrustedHost, error) {
	var hosts []*TrustedHost
	err := s.ro.SelectContext(ctx, &hosts, `
		SELECT host_key, key_type, public_key, since
		FROM trusted_hosts ORDER BY host_key, key_type`)
	if err != nil {
		return nil, apperrors.Store("list trusted hosts", err)
	}
	return hosts, nil
}

func (s *sqliteStore) IsTrusted(ctx context.Context, hostKey string) (bool, error) {
	var count int
	err := s.ro.GetContext(ctx, &count, `SELECT COUNT(*) FROM trusted_hosts WHERE host_key = ?`, hostKey)
	if err != nil {
		return false, apperrors.Store("check trusted host", err)
	}
	return count > 0, nil
}

func (s *sqliteStore) Remove(ctx context.Context, hostKey string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM trusted_hosts WHERE host_key = ?`, hostKey)
	if err != nil {
		return apperrors.Store("remove trusted host", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("trusted host", hostKey)
	}
	return nil
}
