package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kmc-indicators/common/config"

	_ "github.com/lib/pq"
)

// ErrMissingTable is returned by CheckTable when the relation does not exist.
var ErrMissingTable = errors.New("table not found")

const defaultConnectTimeout = 10 * time.Second

// NewPostgresDB opens the record store database, sizes its pool and waits
// for the first ping.
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := Configure(ctx, db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Configure applies the pool settings of cfg to db and pings it within the
// connect timeout.
func Configure(ctx context.Context, db *sql.DB, cfg *config.DatabaseConfig) error {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database %s@%s:%d: %w", cfg.Database, cfg.Host, cfg.Port, err)
	}
	return nil
}

// CheckTable fails with ErrMissingTable unless table resolves in the
// session's search path.
func CheckTable(ctx context.Context, db *sql.DB, table string) error {
	var exists bool
	if err := db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up table %s: %w", table, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", table, ErrMissingTable)
	}
	return nil
}

// Close closes db if it is non-nil.
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
