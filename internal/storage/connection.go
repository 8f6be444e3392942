// Package storage provides the PostgreSQL and in-memory implementations of the legacy
// connectors, the identity store and the channel segment index used by the bridge.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the postgres driver
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is constructed without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrDatabaseUnavailable is returned when the initial ping or a health check fails.
	ErrDatabaseUnavailable = errors.New("database unavailable")
)

// Connection wraps a pooled *sql.DB configured from Config.
type Connection struct {
	*sql.DB
}

// NewConnection opens a connection pool and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if cfg == nil {
		return nil, ErrDatabaseURLEmpty
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.MaskDatabaseURL(), err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	conn := &Connection{DB: db}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := conn.HealthCheck(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	return conn, nil
}

// HealthCheck pings the database with a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
	}

	return nil
}
