// Package db persists the engine's audit surfaces: sub-agent run tracking,
// plan artifacts, and workspace sessions. Writes here are best-effort from
// the workflow's perspective; a failed audit row never fails the work it
// audits.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/circuitbreaker"
)

// Client manages the database connection pool. The connection is lazy: the
// DSN is resolved and dialed on first use so a worker without DATABASE_URL
// starts fine and only fails, descriptively, when persistence is actually
// touched.
type Client struct {
	logger *zap.Logger

	mu      sync.Mutex
	wrapped *circuitbreaker.DatabaseWrapper
	connErr error
}

// NewClient returns an unconnected client.
func NewClient(logger *zap.Logger) *Client {
	return &Client{logger: logger}
}

// NewClientWithDB wraps an existing handle; used by tests (sqlmock, sqlite).
func NewClientWithDB(db *sql.DB, logger *zap.Logger) *Client {
	return &Client{
		logger:  logger,
		wrapped: circuitbreaker.NewDatabaseWrapper(db, logger),
	}
}

// conn returns the guarded handle, dialing on first use.
func (c *Client) conn(ctx context.Context) (*circuitbreaker.DatabaseWrapper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wrapped != nil {
		return c.wrapped, nil
	}
	if c.connErr != nil {
		return nil, c.connErr
	}

	dsn := os.Getenv("AGENT_ENGINE_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		c.connErr = fmt.Errorf("DATABASE_URL is not set; run tracking and plan persistence require a Postgres connection string")
		return nil, c.connErr
	}

	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		c.connErr = fmt.Errorf("failed to open database: %w", err)
		return nil, c.connErr
	}

	rawDB.SetMaxOpenConns(envInt("DB_MAX_CONNECTIONS", 25))
	rawDB.SetMaxIdleConns(envInt("DB_IDLE_CONNECTIONS", 5))
	rawDB.SetConnMaxLifetime(time.Duration(envInt("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(pingCtx); err != nil {
		rawDB.Close()
		c.connErr = fmt.Errorf("failed to connect to database: %w", err)
		return nil, c.connErr
	}

	c.wrapped = circuitbreaker.NewDatabaseWrapper(rawDB, c.logger)
	c.logger.Info("Database connection established",
		zap.Int("max_connections", envInt("DB_MAX_CONNECTIONS", 25)),
	)
	return c.wrapped, nil
}

// DB returns the raw *sql.DB once connected; nil before first use.
func (c *Client) DB() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wrapped == nil {
		return nil
	}
	return c.wrapped.DB()
}

// Ping forces the lazy connection and verifies it.
func (c *Client) Ping(ctx context.Context) error {
	w, err := c.conn(ctx)
	if err != nil {
		return err
	}
	return w.PingContext(ctx)
}

// Close shuts the pool down if it was ever opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wrapped == nil {
		return nil
	}
	return c.wrapped.DB().Close()
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
