package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/sitework/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	// ConnectRetries bounds how many times the initial ping is retried
	ConnectRetries uint64
}

// DefaultConnectionConfig returns pool settings suitable for one API process
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:            url,
		MaxConns:       20,
		MinConns:       5,
		Timeout:        5 * time.Second,
		MaxLifetime:    30 * time.Minute,
		MaxIdleTime:    5 * time.Minute,
		ConnectRetries: 5,
	}
}

// Connect opens the primary database and waits for it to answer a ping.
// There is no read replica: permission checks must observe the writes the
// matrix save just made.
func Connect(ctx context.Context, config ConnectionConfig) (*sql.DB, error) {
	return connect(ctx, "postgres", config)
}

func connect(ctx context.Context, driver string, config ConnectionConfig) (*sql.DB, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open(driver, config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logger := observability.FromContext(ctx)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).Warnf("database not ready, retrying in %s", wait)
	}

	err = backoff.RetryNotify(ping, backoff.WithContext(backoff.WithMaxRetries(policy, config.ConnectRetries), ctx), notify)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
