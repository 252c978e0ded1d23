package store

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned by backends that cannot serve requests.
var ErrBackendUnavailable = errors.New("session backend unavailable")

// Backend is a scoped key/value store. Values are opaque JSON strings.
// A Set replaces the whole value atomically; retention is a hard eviction
// bound (0 keeps the key until deleted) independent of read-time expiry.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, retention time.Duration) error
	Delete(ctx context.Context, key string) error
	// Keys lists live keys matching a glob pattern ("tab:*:prompt-scores:*").
	Keys(ctx context.Context, pattern string) ([]string, error)
}
