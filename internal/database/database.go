// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection settings read from environment variables.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// configFromEnv reads database config from well-known environment variables,
// falling back to sensible local-development defaults.
func configFromEnv() Config {
	return Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		DBName:   getEnv("DB_NAME", "lunchsignups"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DSN builds a libpq-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// NewPool creates and validates a pgxpool connection pool.
// It retries up to 5 times to accommodate containers starting up.
func NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg := configFromEnv()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	// Sensible pool defaults for a small service.
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				break
			}
			pool.Close()
		}
		fmt.Printf("db connect attempt %d/5 failed: %v - retrying in 2s\n", attempt, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return pool, nil
}

// schema is applied at startup. Signups keep one row per (event, email)
// pair; the partial unique index is the storage-level backstop for the
// one-active-signup-per-participant invariant.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    starts_at  TIMESTAMPTZ NOT NULL,
    location   TEXT NOT NULL,
    address    TEXT NOT NULL DEFAULT '',
    deleted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS signups (
    id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    event_id     TEXT NOT NULL REFERENCES events (id),
    name         TEXT NOT NULL,
    email        TEXT NOT NULL,
    team         TEXT NOT NULL,
    status       TEXT NOT NULL CHECK (status IN ('confirmed', 'waitlist', 'cancelled')),
    created_at   TIMESTAMPTZ NOT NULL,
    cancelled_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS signups_active_participant
    ON signups (event_id, email)
    WHERE status IN ('confirmed', 'waitlist');

CREATE INDEX IF NOT EXISTS signups_event_status
    ON signups (event_id, status, created_at);
`

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
