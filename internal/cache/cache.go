package cache

import (
	"context"
	"errors"
)

// ErrMiss indicates the key is not cached.
var ErrMiss = errors.New("cache miss")

// StatusCache caches analysis status documents keyed by job id, easing the
// database load from status polling.
type StatusCache interface {
	Get(ctx context.Context, jobID string) ([]byte, error)
	Set(ctx context.Context, jobID string, payload []byte) error
	Invalidate(ctx context.Context, jobID string) error
}

// Noop is a StatusCache that caches nothing.
type Noop struct{}

// Get always reports a miss.
func (Noop) Get(ctx context.Context, jobID string) ([]byte, error) {
	_ = ctx
	_ = jobID
	return nil, ErrMiss
}

// Set discards the payload.
func (Noop) Set(ctx context.Context, jobID string, payload []byte) error {
	_ = ctx
	_ = jobID
	_ = payload
	return nil
}

// Invalidate does nothing.
func (Noop) Invalidate(ctx context.Context, jobID string) error {
	_ = ctx
	_ = jobID
	return nil
}
