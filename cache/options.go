package cache

import (
	"time"
)

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction
	// (Ristretto only). Recommended: 64
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e6,
		MaxCost:            1 << 28, // 256MB
		BufferItems:        64,
		IgnoreInternalCost: false,
		MaxSize:            10000,
	}
}

// Options configures a GuildCache instance.
type Options struct {
	// TTLCeiling bounds the lifetime of repopulated shared-store entries.
	// It is the self-healing backstop against a missed invalidation; no
	// component garbage-collects cache keys by hand.
	TTLCeiling time.Duration

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to Ristretto factory.
	LocalCacheFactory LocalCacheFactory

	// Marshaller is the marshaller for serialization.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for the cache. If nil, defaults to no-op.
	Logger Logger

	// ContextTimeout bounds source-of-truth reloads triggered by bus events.
	ContextTimeout time.Duration

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default guild cache options.
func DefaultOptions() Options {
	return Options{
		TTLCeiling:       time.Hour,
		LocalCacheConfig: DefaultLocalCacheConfig(),
		ContextTimeout:   5 * time.Second,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.TTLCeiling <= 0 {
		return ErrInvalidConfig
	}
	if o.ContextTimeout <= 0 {
		return ErrInvalidConfig
	}
	if o.LocalCacheFactory == nil {
		if o.LocalCacheConfig.NumCounters <= 0 || o.LocalCacheConfig.MaxCost <= 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
