package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
	"github.com/gitwarden/gitwarden/internal/secrets"
)

type sqliteStore struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	cipher *secrets.Cipher
}

var _ Store = (*sqliteStore)(nil)

// Provide creates the SQLite settings store using separate writer and reader pools.
func Provide(writer, reader *sqlx.DB, cipher *secrets.Cipher) (Store, error) {
	store := &sqliteStore{db: writer, ro: reader, cipher: cipher}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("settings schema init: %w", err)
	}
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS git_credentials (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		host            TEXT NOT NULL,
		auth_kind       TEXT NOT NULL,
		username        TEXT NOT NULL DEFAULT '',
		token_enc       TEXT NOT NULL DEFAULT '',
		ssh_key_enc     TEXT NOT NULL DEFAULT '',
		passphrase_enc  TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_git_credentials_host ON git_credentials(host);

	CREATE TABLE IF NOT EXISTS git_identity (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		name       TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) CreateCredential(ctx context.Context, cred *GitCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	tokenEnc, keyEnc, passEnc, err := s.encryptSecrets(cred)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO git_credentials (id, name, host, auth_kind, username, token_enc, ssh_key_enc, passphrase_enc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.Name, cred.Host, string(cred.AuthKind), cred.Username,
		tokenEnc, keyEnc, passEnc, now, now,
	)
	if err != nil {
		return apperrors.Store("insert credential", err)
	}
	return nil
}

func (s *sqliteStore) GetCredential(ctx context.Context, id string) (*GitCredential, error) {
	var row credentialRow
	err := s.ro.GetContext(ctx, &row, `
		SELECT id, name, host, auth_kind, username, token_enc, ssh_key_enc, passphrase_enc, created_at, updated_at
		FROM git_credentials WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("credential", id)
		}
		return nil, apperrors.Store("get credential", err)
	}
	return s.decryptRow(&row)
}

func (s *sqliteStore) ListCredentials(ctx context.Context) ([]*GitCredential, error) {
	var rows []credentialRow
	err := s.ro.SelectContext(ctx, &rows, `
		SELECT id, name, host, auth_kind, username, token_enc, ssh_key_enc, passphrase_enc, created_at, updated_at
		FROM git_credentials ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperrors.Store("list credentials", err)
	}

	creds := make([]*GitCredential, 0, len(rows))
	for i := range rows {
		cred, err := s.decryptRow(&rows[i])
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func (s *sqliteStore) UpdateCredential(ctx context.Context, cred *GitCredential) error {
	cred.UpdatedAt = time.Now().UTC()

	tokenEnc, keyEnc, passEnc, err := s.encryptSecrets(cred)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE git_credentials
		SET name = ?, host = ?, auth_kind = ?, username = ?, token_enc = ?, ssh_key_enc = ?, passphrase_enc = ?, updated_at = ?
		WHERE id = ?`,
		cred.Name, cred.Host, string(cred.AuthKind), cred.Username,
		tokenEnc, keyEnc, passEnc, cred.UpdatedAt, cred.ID,
	)
	if err != nil {
		return apperrors.Store("update credential", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("credential", cred.ID)
	}
	return nil
}

func (s *sqliteStore) DeleteCredential(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM git_credentials WHERE id = ?`, id)
	if err != nil {
		return apperrors.Store("delete credential", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("credential", id)
	}
	return nil
}

func (s *sqliteStore) GetIdentity(ctx context.Context) (*GitIdentity, error) {
	var row struct {
		Name  string `db:"name"`
		Email string `db:"email"`
	}
	err := s.ro.GetContext(ctx, &row, `SELECT name, email FROM git_identity WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &GitIdentity{}, nil
		}
		return nil, apperrors.Store("get identity", err)
	}
	return &GitIdentity{Name: row.Name, Email: row.Email}, nil
}

func (s *sqliteStore) SetIdentity(ctx context.Context, identity *GitIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO git_identity (id, name, email, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, updated_at = excluded.updated_at`,
		identity.Name, identity.Email, time.Now().UTC(),
	)
	if err != nil {
		return apperrors.Store("set identity", err)
	}
	return nil
}

func (s *sqliteStore) encryptSecrets(cred *GitCredential) (tokenEnc, keyEnc, passEnc string, err error) {
	if cred.Token != "" {
		if tokenEnc, err = s.cipher.Encrypt(cred.Token); err != nil {
			return "", "", "", apperrors.Internal("encrypt token", err)
		}
	}
	if cred.SSHPrivateKey != "" {
		if keyEnc, err = s.cipher.Encrypt(cred.SSHPrivateKey); err != nil {
			return "", "", "", apperrors.Internal("encrypt ssh key", err)
		}
	}
	if cred.Passphrase != "" {
		if passEnc, err = s.cipher.Encrypt(cred.Passphrase); err != nil {
			return "", "", "", apperrors.Internal("encrypt passphrase", err)
		}
	}
	return tokenEnc, keyEnc, passEnc, nil
}

func (s *sqliteStore) decryptRow(row *credentialRow) (*GitCredential, error) {
	cred := &GitCredential{
		ID:        row.ID,
		Name:      row.Name,
		Host:      row.Host,
		AuthKind:  AuthKind(row.AuthKind),
		Username:  row.Username,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}

	var err error
	if row.TokenEnc != "" {
		if cred.Token, err = s.cipher.Decrypt(row.TokenEnc); err != nil {
			return nil, apperrors.Internal("decrypt token", err)
		}
	}
	if row.SSHKeyEnc != "" {
		if cred.SSHPrivateKey, err = s.cipher.Decrypt(row.SSHKeyEnc); err != nil {
			return nil, apperrors.Internal("decrypt ssh key", err)
		}
	}
	if row.PassphraseEnc != "" {
		if cred.Passphrase, err = s.cipher.Decrypt(row.PassphraseEnc); err != nil {
			return nil, apperrors.Internal("decrypt passphrase", err)
		}
	}
	return cred, nil
}

// credentialRow is the DB scan target for credential queries.
type credentialRow struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Host          string    `db:"host"`
	AuthKind      string    `db:"auth_kind"`
	Username      string    `db:"username"`
	TokenEnc      string    `db:"token_enc"`
	SSHKeyEnc     string    `db:"ssh_key_enc"`
	PassphraseEnc string    `db:"passphrase_enc"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
