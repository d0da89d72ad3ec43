// Package memory is the short-term conversation memory collaborator:
// accepted tool-result and assistant messages are mirrored into a capped,
// TTL-bounded per-session window in Redis so sibling agents and follow-up
// runs can read recent context without loading full workflow state.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/circuitbreaker"
	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

const (
	defaultWindow = 100
	defaultTTL    = 24 * time.Hour
)

// Manager mirrors messages into Redis.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	window int64
	ttl    time.Duration
}

// NewManager connects to Redis and verifies the connection.
func NewManager(redisAddr string, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	wrapped := circuitbreaker.NewRedisWrapper(client, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Manager{
		client: wrapped,
		logger: logger,
		window: defaultWindow,
		ttl:    defaultTTL,
	}, nil
}

// NewManagerWithClient wraps an existing client; used by tests.
func NewManagerWithClient(client *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		client: circuitbreaker.NewRedisWrapper(client, logger),
		logger: logger,
		window: defaultWindow,
		ttl:    defaultTTL,
	}
}

func (m *Manager) key(sessionID string) string {
	return "memory:" + sessionID
}

// Mirror appends a message to the session window. Messages without a
// session id are skipped silently; memory is best-effort context, not the
// durable record.
func (m *Manager) Mirror(ctx context.Context, sessionID string, msg state.Message) error {
	if sessionID == "" {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal memory message: %w", err)
	}

	key := m.key(sessionID)
	if err := m.client.LPush(ctx, key, data).Err(); err != nil {
		metrics.MemoryMirrorWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("mirror message to memory: %w", err)
	}
	// Cap the window and refresh the TTL; failures here only shorten the
	// usable history.
	if err := m.client.LTrim(ctx, key, 0, m.window-1).Err(); err != nil {
		m.logger.Warn("Failed to trim memory window", zap.Error(err))
	}
	if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
		m.logger.Warn("Failed to refresh memory TTL", zap.Error(err))
	}

	metrics.MemoryMirrorWrites.WithLabelValues("ok").Inc()
	return nil
}

// Recent returns up to n messages for the session, newest first.
func (m *Manager) Recent(ctx context.Context, sessionID string, n int64) ([]state.Message, error) {
	if sessionID == "" || n <= 0 {
		return nil, nil
	}

	raw, err := m.client.LRange(ctx, m.key(sessionID), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read memory window: %w", err)
	}

	msgs := make([]state.Message, 0, len(raw))
	for _, item := range raw {
		var msg state.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			m.logger.Warn("Skipping undecodable memory entry", zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ping probes the Redis connection through the circuit breaker.
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	return m.client.Close()
}
