package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gitwarden/gitwarden/internal/common/config"
)

// connMaxLifetime bounds how long a pooled connection is reused before being
// recycled, so stale connections don't outlive server-side restarts.
const connMaxLifetime = 30 * time.Minute

// OpenPostgres opens a PostgreSQL connection pool via the pgx stdlib driver.
// Pool sizing comes from the database config section; non-positive values
// fall back to the config defaults (25 open, 5 idle).
func OpenPostgres(dbCfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("pgx", dbCfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	maxConns := dbCfg.MaxConns
	if maxConns <= 0 {
		maxConns = 25
	}
	minConns := dbCfg.MinConns
	if minConns <= 0 {
		minConns = 5
	}

	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)
	conn.SetConnMaxLifetime(connMaxLifetime)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return conn, nil
}
