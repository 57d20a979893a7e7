// Package postgres stores found solutions and genesis verification results
// in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
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

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
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

// BeginTx starts a new transaction
func (c *Client) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// Schema creates the tables used by the repositories.
const Schema = `
CREATE TABLE IF NOT EXISTS solutions (
	id           BIGSERIAL PRIMARY KEY,
	job_id       TEXT NOT NULL,
	network      TEXT NOT NULL,
	pipeline     TEXT NOT NULL,
	height       BIGINT NOT NULL,
	nonce        BIGINT NOT NULL,
	hash         TEXT NOT NULL,
	bits         BIGINT NOT NULL,
	difficulty   DOUBLE PRECISION NOT NULL,
	hashes       BIGINT NOT NULL DEFAULT 0,
	elapsed_ms   BIGINT NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	found_at     TIMESTAMPTZ NOT NULL,
	submitted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS solutions_network_found_at ON solutions (network, found_at DESC);

CREATE TABLE IF NOT EXISTS genesis_verifications (
	id            BIGSERIAL PRIMARY KEY,
	network       TEXT NOT NULL,
	pipeline      TEXT NOT NULL,
	hash          TEXT NOT NULL,
	ok            BOOLEAN NOT NULL,
	failed_checks TEXT NOT NULL DEFAULT '',
	checked_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS genesis_verifications_network ON genesis_verifications (network, checked_at DESC);
`

// Migrate applies Schema.
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
