package cache

import (
	"context"
	"time"

	"github.com/guildkit/realtime-sync/store"
	"github.com/guildkit/realtime-sync/types"
)

// Logger is an alias for store.Logger.
type Logger = store.Logger

// Marshaller is an alias for store.Serializer.
type Marshaller = store.Serializer

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return store.NewJSONSerializer()
}

// LocalCache defines the interface for local in-process caching.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache. A positive ttl bounds the
	// entry's lifetime so a missed invalidation heals itself locally too,
	// not just in the shared store. Backends without per-entry expiry
	// apply the cache-wide TTL fixed at construction instead.
	Set(key string, value any, cost int64, ttl time.Duration) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache
// implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// SharedStore is the slice of the shared store the guild cache uses.
// Implemented by *store.Store; tests substitute an in-memory fake.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	DeletePattern(ctx context.Context, pattern string) int
}

// ConfigSource is the source of truth for guild configuration. The
// relational store behind it is an external collaborator; this layer only
// ever reads from it.
type ConfigSource interface {
	// GuildConfig loads a guild's settings document.
	GuildConfig(ctx context.Context, guildID string) (types.GuildSettings, error)

	// ModuleState loads the state of one feature module.
	ModuleState(ctx context.Context, guildID, module string) (types.ModuleState, error)
}

// Stats represents guild cache statistics.
type Stats struct {
	LocalHits     int64
	LocalMisses   int64
	RemoteHits    int64
	RemoteMisses  int64
	Invalidations int64
	Reloads       int64
}
