package ratelimit

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Blocklist is a hard block-list that short-circuits both limiters.
// Entries live in the shared store so every process observes them; positive
// hits are memoized locally to spare a store round-trip on hammering
// clients.
type Blocklist struct {
	flags FlagStore
	memo  *ttlcache.Cache[string, bool]
}

// memoTTL caps how long a positive hit is served locally without
// re-checking the store.
const memoTTL = time.Minute

// NewBlocklist creates a block-list over the shared store.
func NewBlocklist(flags FlagStore) *Blocklist {
	memo := ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](memoTTL),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	go memo.Start()

	return &Blocklist{
		flags: flags,
		memo:  memo,
	}
}

// Block blocks an identifier for the given duration.
func (b *Blocklist) Block(ctx context.Context, id string, duration time.Duration) {
	b.flags.Set(ctx, blockKey(id), []byte("1"), duration)

	ttl := duration
	if ttl > memoTTL {
		ttl = memoTTL
	}
	b.memo.Set(id, true, ttl)
}

// IsBlocked reports whether an identifier is currently blocked. Only
// positive results are memoized; a fresh block must take effect across
// processes within one store read.
func (b *Blocklist) IsBlocked(ctx context.Context, id string) bool {
	if b.memo.Get(id) != nil {
		return true
	}

	blocked := b.flags.Exists(ctx, blockKey(id))
	if blocked {
		b.memo.Set(id, true, ttlcache.DefaultTTL)
	}
	return blocked
}

// Close stops the local memo janitor.
func (b *Blocklist) Close() {
	b.memo.Stop()
}

func blockKey(id string) string {
	return "blocked:" + id
}
