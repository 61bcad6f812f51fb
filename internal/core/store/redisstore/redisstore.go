// Package redisstore keeps claim limiter entries in Redis. Entries carry a TTL
// matching their eligible-at time, so Redis expires them without a sweep.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/spigotlabs/spigot/internal/core"
)

const defaultKeyPrefix = "spigot:limit:"

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements the limiter's LimitStore over a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, clock: time.Now}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) GetLimit(ctx context.Context, key string) (*core.LimitEntry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch claim limit: %w", err)
	}

	var entry core.LimitEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode claim limit: %w", err)
	}
	return &entry, nil
}

// SetLimit stores entry until its eligible-at time. An entry that is already
// expired is deleted instead.
func (s *Store) SetLimit(ctx context.Context, key string, entry core.LimitEntry) error {
	ttl := entry.EligibleAt.Sub(s.clock())
	if ttl <= 0 {
		return s.DeleteLimit(ctx, key)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode claim limit: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store claim limit: %w", err)
	}
	return nil
}

func (s *Store) DeleteLimit(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete claim limit: %w", err)
	}
	return nil
}

// SweepLimits is a no-op: Redis expires keys by TTL.
func (s *Store) SweepLimits(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Count returns the number of live limiter keys.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan claim limits: %w", err)
	}
	return count, nil
}
