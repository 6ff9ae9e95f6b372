package realtimesync

import (
	"github.com/guildkit/realtime-sync/cache"
	"github.com/guildkit/realtime-sync/store"
)

// ErrNotFound is returned when a key is not found in the shared store.
var ErrNotFound = store.ErrNotFound

// ErrInvalidConfig is returned when the cache configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig
