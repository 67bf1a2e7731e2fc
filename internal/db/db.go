// Package db provides database connection handling for the audit pipeline.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrEmptyDatabaseURL is returned when Connect is called without a URL.
var ErrEmptyDatabaseURL = errors.New("database URL cannot be empty")

// PingTimeout bounds the initial connectivity check.
const PingTimeout = 10 * time.Second

// Connect opens a PostgreSQL connection pool and verifies connectivity before
// returning it. The caller owns the pool and must Close it.
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, ErrEmptyDatabaseURL
	}

	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}
