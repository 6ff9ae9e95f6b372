// Package ratelimit implements fixed-window rate limiting, a hard
// block-list and per-action cooldowns on top of the shared store's atomic
// counters. Windows expire via store-native TTL; there are no application
// timers.
package ratelimit

import (
	"context"
	"time"

	"github.com/guildkit/realtime-sync/store"
)

// Logger is an alias for store.Logger.
type Logger = store.Logger

// Counter is the slice of the shared store the limiter uses.
// Implemented by *store.Store.
type Counter interface {
	IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
	TTL(ctx context.Context, key string) time.Duration
}

// FlagStore is the slice of the shared store used for boolean TTL flags
// (block-list entries and cooldowns). Implemented by *store.Store.
type FlagStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Exists(ctx context.Context, key string) bool
}

// Default limits required by policy: an IP-scoped limiter, and a
// user-scoped limiter evaluated in addition when the caller is
// authenticated.
const (
	DefaultIPLimit   = 100
	DefaultUserLimit = 200
	DefaultWindow    = 60 * time.Second
)

// Result is the outcome of a limiter check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window rate limiter for one identifier scope.
type Limiter struct {
	counter Counter
	prefix  string
	limit   int
	window  time.Duration
}

// NewLimiter creates a limiter that allows limit requests per window for
// each identifier under the given key prefix.
func NewLimiter(counter Counter, prefix string, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultIPLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		counter: counter,
		prefix:  prefix,
		limit:   limit,
		window:  window,
	}
}

// Allow records one request for the identifier and reports whether it fits
// in the current window. A count of 1 starts a new window. When the counter
// store is unreachable the limiter fails open: an unreachable store must
// not block all traffic.
func (l *Limiter) Allow(ctx context.Context, id string) Result {
	key := l.prefix + ":" + id

	count, err := l.counter.IncrementWithExpiry(ctx, key, l.window)
	if err != nil {
		return Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: l.limit,
			ResetAt:   time.Now().Add(l.window),
		}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	ttl := l.counter.TTL(ctx, key)
	if ttl <= 0 {
		ttl = l.window
	}

	return Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int {
	return l.limit
}
