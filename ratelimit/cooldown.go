package ratelimit

import (
	"context"
	"time"
)

// Cooldowns are boolean TTL flags keyed by (scope, actor, action):
// existence means still cooling down. Checking and setting are separate
// calls; callers check-then-act-then-set. Under high concurrency on the
// same actor and action that leaves a narrow race — worst case one extra
// action runs before the flag lands, which is accepted.
type Cooldowns struct {
	flags FlagStore
}

// NewCooldowns creates a cooldown tracker over the shared store.
func NewCooldowns(flags FlagStore) *Cooldowns {
	return &Cooldowns{flags: flags}
}

// Set marks the actor's action as cooling down for ttl.
func (c *Cooldowns) Set(ctx context.Context, scope, actorID, actionID string, ttl time.Duration) {
	c.flags.Set(ctx, cooldownKey(scope, actorID, actionID), []byte("1"), ttl)
}

// Has reports whether the actor's action is still cooling down.
func (c *Cooldowns) Has(ctx context.Context, scope, actorID, actionID string) bool {
	return c.flags.Exists(ctx, cooldownKey(scope, actorID, actionID))
}

func cooldownKey(scope, actorID, actionID string) string {
	return "cooldown:" + scope + ":" + actorID + ":" + actionID
}
