// Package db provides database connections for gitwarden stores.
//
// SQLite is the default backend; PostgreSQL can be selected for shared
// deployments via database.driver=postgres.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gitwarden/gitwarden/internal/common/config"
)

// Pool provides separate read and write database connections.
//
// For SQLite with WAL mode, this enables concurrent reads while serializing
// writes through a single connection. For PostgreSQL both Writer and Reader
// return the same *sqlx.DB since pgx handles pooling internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the connection used for INSERT, UPDATE, DELETE, and
// transactions. For SQLite this is limited to a single connection.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	// Avoid double-close when both pools share the same *sqlx.DB (Postgres).
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}

// Open creates a Pool for the configured backend.
func Open(cfg *config.Config) (*Pool, error) {
	switch cfg.Database.Driver {
	case "postgres":
		conn, err := OpenPostgres(cfg.Database)
		if err != nil {
			return nil, err
		}
		pool := sqlx.NewDb(conn, "pgx")
		return NewPool(pool, pool), nil
	case "sqlite", "":
		path := cfg.SQLitePath()
		writer, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(path)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
}
