package statestore

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
)

// RedisStore implements Store on a Redis backend. Conditional writes use
// WATCH so that a concurrent modification between the version check and the
// SET aborts the transaction instead of silently overwriting.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr   string
	Prefix string        // key namespace, default "engine:state"
	TTL    time.Duration // 0 means no expiry
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "engine:state"
	}

	return &RedisStore{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    opts.TTL,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "engine:state"
	}
	return &RedisStore{client: client, logger: logger, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Etag computes the version token for a stored value.
func Etag(value []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(value)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		metrics.StateStoreOps.WithLabelValues("get", "miss").Inc()
		return nil, "", ErrNotFound
	} else if err != nil {
		metrics.StateStoreOps.WithLabelValues("get", "error").Inc()
		return nil, "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	metrics.StateStoreOps.WithLabelValues("get", "ok").Inc()
	return data, Etag(data), nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key string, value []byte, expectedEtag string) error {
	rkey := s.key(key)

	if expectedEtag == "" {
		if err := s.client.Set(ctx, rkey, value, s.ttl).Err(); err != nil {
			metrics.StateStoreOps.WithLabelValues("save", "error").Inc()
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
		metrics.StateStoreOps.WithLabelValues("save", "ok").Inc()
		return nil
	}

	if expectedEtag == EtagAbsent {
		created, err := s.client.SetNX(ctx, rkey, value, s.ttl).Result()
		if err != nil {
			metrics.StateStoreOps.WithLabelValues("save", "error").Inc()
			return fmt.Errorf("failed to save %s: %w", key, err)
		}
		if !created {
			// Another writer created the key first.
			metrics.StateStoreOps.WithLabelValues("save", "conflict").Inc()
			return ErrVersionConflict
		}
		metrics.StateStoreOps.WithLabelValues("save", "ok").Inc()
		return nil
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rkey).Bytes()
		if err == redis.Nil {
			return ErrVersionConflict
		} else if err != nil {
			return err
		}
		if Etag(current) != expectedEtag {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, value, s.ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, rkey)
	if err == redis.TxFailedErr {
		// Key changed between WATCH and EXEC.
		err = ErrVersionConflict
	}
	if err != nil {
		if err == ErrVersionConflict {
			metrics.StateStoreOps.WithLabelValues("save", "conflict").Inc()
			return ErrVersionConflict
		}
		metrics.StateStoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	metrics.StateStoreOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
