package realtimesync

import (
	"github.com/guildkit/realtime-sync/cache"
	"github.com/guildkit/realtime-sync/store"
)

// Logger is an alias for store.Logger.
type Logger = store.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// ConfigSource is an alias for cache.ConfigSource.
type ConfigSource = cache.ConfigSource

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}
