// Package redis provides a Redis implementation of the LeaseStore port.
//
// A lease is a key holding the owner's id with a PX expiry. Acquire uses
// SET NX and Release deletes the key only if the caller still owns it, so an
// expired lease taken over by another replica is never released by the old holder.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-trade/internal/ports/outbound"
)

// Compile-time check that LeaseStore implements outbound.LeaseStore
var _ outbound.LeaseStore = (*LeaseStore)(nil)

// releaseScript deletes KEYS[1] only when it holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends KEYS[1] to ARGV[2] milliseconds when it holds ARGV[1].
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Config holds Redis lease configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all lease keys
	KeyPrefix string
}

// ConfigDefaults returns default Redis lease configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "stl-trade:lease",
	}
}

// LeaseStore is a Redis implementation of the outbound.LeaseStore port.
type LeaseStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *slog.Logger
}

// NewLeaseStore connects a lease store to the configured server.
func NewLeaseStore(cfg Config, logger *slog.Logger) (*LeaseStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewLeaseStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewLeaseStoreWithClient wraps an existing client.
func NewLeaseStoreWithClient(client redis.UniversalClient, keyPrefix string, logger *slog.Logger) *LeaseStore {
	if keyPrefix == "" {
		keyPrefix = ConfigDefaults().KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With("component", "redis-lease"),
	}
}

// Ping checks the Redis connection.
func (s *LeaseStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *LeaseStore) Close() error {
	return s.client.Close()
}

// Acquire takes the lease for key, or extends it when owner already holds it.
func (s *LeaseStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl < time.Millisecond {
		return false, fmt.Errorf("lease ttl %v is below 1ms", ttl)
	}
	k := s.leaseKey(key)

	ok, err := s.client.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, s.client, []string{k}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renewing lease %s: %w", key, err)
	}
	if renewed == 0 {
		s.logger.Debug("lease held by another owner", "key", key)
	}
	return renewed == 1, nil
}

// Release deletes the lease if owner still holds it.
func (s *LeaseStore) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.leaseKey(key)}, owner).Err(); err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	return nil
}

func (s *LeaseStore) leaseKey(key string) string {
	return s.keyPrefix + ":" + key
}
