package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

// Redis is a StatusCache backed by a Redis server.
type Redis struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// New creates a Redis-backed StatusCache on an existing client.
func New(client goredis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{
		client:    client,
		keyPrefix: "analysis:status:",
		ttl:       ttl,
	}
}

// NewFromURL connects to the Redis URL and verifies connectivity.
func NewFromURL(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

// Get returns the cached status document or ErrMiss.
func (r *Redis) Get(ctx context.Context, jobID string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(jobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores the status document with the configured TTL.
func (r *Redis) Set(ctx context.Context, jobID string, payload []byte) error {
	return r.client.Set(ctx, r.key(jobID), payload, r.ttl).Err()
}

// Invalidate removes the cached document after a status transition.
func (r *Redis) Invalidate(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}

func (r *Redis) key(jobID string) string {
	return r.keyPrefix + jobID
}

var _ StatusCache = (*Redis)(nil)
