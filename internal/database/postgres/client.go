// Package postgres provides the PostgreSQL client and the proof verification
// ledger used by the relayer.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DSN renders the lib/pq connection string, quoting values as libpq requires.
func (c *Config) DSN() string {
	quote := func(v string) string {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		return "'" + v + "'"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		quote(c.Host), c.Port, quote(c.Database), quote(c.User), quote(c.Password), quote(c.SSLMode))
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Migrate creates the verification ledger if it does not exist.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Schema is the DDL for the verification ledger. Request fields are stored as
// received so rejected requests can be recorded too.
const Schema = `
CREATE TABLE IF NOT EXISTS proof_verifications (
	id                        BIGSERIAL PRIMARY KEY,
	request_id                TEXT        NOT NULL,
	tx_hash                   TEXT        NOT NULL,
	status                    TEXT        NOT NULL,
	required_confirmations    INTEGER     NOT NULL,
	confirmations             INTEGER     NOT NULL DEFAULT 0,
	block_height              BIGINT,
	block_hash                CHAR(64),
	previous_epoch_difficulty TEXT        NOT NULL,
	current_epoch_difficulty  TEXT        NOT NULL,
	error_type                TEXT,
	error_message             TEXT,
	processing_time_ms        DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (request_id, status)
);

CREATE INDEX IF NOT EXISTS proof_verifications_tx_hash_idx
	ON proof_verifications (tx_hash, created_at DESC);

CREATE INDEX IF NOT EXISTS proof_verifications_created_at_idx
	ON proof_verifications (created_at);
`
