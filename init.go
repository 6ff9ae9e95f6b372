// Package realtimesync wires the synchronization layer together: the
// Redis-backed shared store, the pub/sub event bus and the two-level
// guild cache that the bus keeps coherent across processes.
//
// The websocket gateway and the rate limiter build on the same store and
// bus but have process-specific configuration, so they are constructed
// separately from their own packages.
package realtimesync

import (
	"time"

	"github.com/guildkit/realtime-sync/bus"
	"github.com/guildkit/realtime-sync/cache"
	"github.com/guildkit/realtime-sync/store"
)

// Config configures a synchronization layer instance.
type Config struct {
	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// Source loads guild configuration from the source of truth.
	// Required.
	Source ConfigSource

	// LocalCacheConfig configures the in-process cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory creates the in-process cache.
	// If nil, defaults to the LFU (Ristretto) factory.
	LocalCacheFactory LocalCacheFactory

	// TTLCeiling caps the lifetime of cached entries in both layers.
	TTLCeiling time.Duration

	// SerializationFormat names the serializer for cached values
	// ("json"). Ignored when Marshaller is set.
	SerializationFormat string

	// Marshaller serializes cached values. If nil, one is resolved from
	// SerializationFormat.
	Marshaller Marshaller

	// Logger is used across the store, bus and cache.
	// If nil, defaults to no-op.
	Logger Logger

	// ContextTimeout bounds background reload operations.
	ContextTimeout time.Duration

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultConfig returns default synchronization layer configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		TTLCeiling:          time.Hour,
		SerializationFormat: "json",
		ContextTimeout:      5 * time.Second,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
	}
}

// Layer is a fully wired synchronization layer for one process.
type Layer struct {
	store  *store.Store
	bus    *bus.Bus
	guilds *cache.GuildCache
}

// New connects to Redis, starts the bus and builds the guild cache with
// its invalidation handlers bound. The caller owns the returned layer and
// must Close it.
func New(cfg Config) (*Layer, error) {
	if cfg.Source == nil {
		return nil, ErrInvalidConfig
	}

	marshaller := cfg.Marshaller
	if marshaller == nil {
		format := cfg.SerializationFormat
		if format == "" {
			format = "json"
		}
		var err error
		marshaller, err = store.GetSerializer(format)
		if err != nil {
			return nil, err
		}
	}

	st, err := store.New(store.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	b := bus.New(st, cfg.Logger)

	guilds, err := cache.New(st, cfg.Source, b, cache.Options{
		TTLCeiling:        cfg.TTLCeiling,
		LocalCacheConfig:  cfg.LocalCacheConfig,
		LocalCacheFactory: cfg.LocalCacheFactory,
		Marshaller:        marshaller,
		Logger:            cfg.Logger,
		ContextTimeout:    cfg.ContextTimeout,
		OnError:           cfg.OnError,
	})
	if err != nil {
		b.Close()
		st.Close()
		return nil, err
	}

	if err := guilds.BindBus(b); err != nil {
		guilds.Close()
		b.Close()
		st.Close()
		return nil, err
	}

	return &Layer{store: st, bus: b, guilds: guilds}, nil
}

// Store returns the shared store for direct key access.
func (l *Layer) Store() *store.Store {
	return l.store
}

// Bus returns the event bus for publishing and extra subscriptions.
func (l *Layer) Bus() *bus.Bus {
	return l.bus
}

// Guilds returns the guild configuration cache.
func (l *Layer) Guilds() *cache.GuildCache {
	return l.guilds
}

// Close shuts down the cache, the bus and the store, in that order.
func (l *Layer) Close() error {
	l.guilds.Close()
	err := l.bus.Close()
	if cerr := l.store.Close(); err == nil {
		err = cerr
	}
	return err
}
