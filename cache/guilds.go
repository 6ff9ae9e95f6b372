// Package cache implements the per-guild configuration cache and its
// invalidation protocol: invalidate-on-write, lazy-reload-on-read,
// eager-reload-on-remote-event.
//
// A present cache entry is never guaranteed fresh — absence is the only
// hard guarantee. Every entry is reconstructable from the source of truth,
// which is what makes lost bus messages tolerable.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/guildkit/realtime-sync/bus"
	"github.com/guildkit/realtime-sync/store"
	"github.com/guildkit/realtime-sync/types"
)

// GuildCache is a two-level read-through cache for guild configuration:
// a local in-process cache in front of the shared store, with the source
// of truth behind both.
type GuildCache struct {
	local      LocalCache
	shared     SharedStore
	source     ConfigSource
	publisher  bus.Publisher
	marshaller Marshaller
	logger     Logger
	opts       Options

	group  singleflight.Group
	stats  Stats
	closed int32
}

// New creates a GuildCache on top of the shared store and source of truth.
// The publisher is used by the writer-path Invalidate helpers; processes
// that never write may pass nil.
func New(shared SharedStore, source ConfigSource, publisher bus.Publisher, opts Options) (*GuildCache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLFUCacheFactory(opts.LocalCacheConfig)
	}
	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = store.NewNoOpLogger()
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	return &GuildCache{
		local:      local,
		shared:     shared,
		source:     source,
		publisher:  publisher,
		marshaller: opts.Marshaller,
		logger:     opts.Logger,
		opts:       opts,
	}, nil
}

// BindBus subscribes the cache's invalidation handlers. Every process calls
// this, including the one that performs writes: the writer reacts to its
// own events, which covers stale entries reloaded by a concurrent reader.
func (g *GuildCache) BindBus(sub bus.Subscriber) error {
	if err := sub.Subscribe(bus.ChannelConfigUpdate, g.handleConfigUpdate); err != nil {
		return err
	}
	if err := sub.Subscribe(bus.ChannelModuleToggle, g.handleModuleToggle); err != nil {
		return err
	}
	return sub.Subscribe(bus.ChannelGuildReload, g.handleGuildReload)
}

// Config returns a guild's settings: local cache, then shared store, then
// the source of truth, repopulating each layer on the way back.
func (g *GuildCache) Config(ctx context.Context, guildID string) (types.GuildSettings, error) {
	key := ConfigKey(guildID)

	if value, found := g.local.Get(key); found {
		if settings, ok := value.(types.GuildSettings); ok {
			atomic.AddInt64(&g.stats.LocalHits, 1)
			return settings, nil
		}
		g.local.Delete(key)
	}
	atomic.AddInt64(&g.stats.LocalMisses, 1)

	if data, found := g.shared.Get(ctx, key); found {
		var settings types.GuildSettings
		if err := g.marshaller.Unmarshal(data, &settings); err == nil {
			atomic.AddInt64(&g.stats.RemoteHits, 1)
			g.local.Set(key, settings, 1, g.opts.TTLCeiling)
			return settings, nil
		}
		// Corrupt entry: drop it and fall through to the source.
		g.shared.Delete(ctx, key)
	}
	atomic.AddInt64(&g.stats.RemoteMisses, 1)

	settings, err := g.loadConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// Module returns the state of one feature module, read through the same
// layers as Config.
func (g *GuildCache) Module(ctx context.Context, guildID, module string) (types.ModuleState, error) {
	key := ModuleKey(guildID, module)

	if value, found := g.local.Get(key); found {
		if state, ok := value.(types.ModuleState); ok {
			atomic.AddInt64(&g.stats.LocalHits, 1)
			return state, nil
		}
		g.local.Delete(key)
	}
	atomic.AddInt64(&g.stats.LocalMisses, 1)

	if data, found := g.shared.Get(ctx, key); found {
		var state types.ModuleState
		if err := g.marshaller.Unmarshal(data, &state); err == nil {
			atomic.AddInt64(&g.stats.RemoteHits, 1)
			g.local.Set(key, state, 1, g.opts.TTLCeiling)
			return state, nil
		}
		g.shared.Delete(ctx, key)
	}
	atomic.AddInt64(&g.stats.RemoteMisses, 1)

	return g.loadModule(ctx, guildID, module)
}

// InvalidateConfig is the writer-path helper: called immediately after the
// new settings were committed to the source of truth. It deletes the cache
// entry and publishes the change; repopulation is left to readers and to
// the event handlers.
func (g *GuildCache) InvalidateConfig(ctx context.Context, guildID string, settings types.GuildSettings) error {
	key := ConfigKey(guildID)
	g.local.Delete(key)
	g.shared.Delete(ctx, key)
	atomic.AddInt64(&g.stats.Invalidations, 1)

	if g.publisher == nil {
		return nil
	}
	return g.publisher.Publish(ctx, bus.ChannelConfigUpdate, bus.ConfigUpdate{
		TenantID: guildID,
		Settings: settings,
	})
}

// InvalidateModule is the writer-path helper for a module toggle.
func (g *GuildCache) InvalidateModule(ctx context.Context, guildID string, state types.ModuleState) error {
	key := ModuleKey(guildID, state.Name)
	g.local.Delete(key)
	g.shared.Delete(ctx, key)
	atomic.AddInt64(&g.stats.Invalidations, 1)

	if g.publisher == nil {
		return nil
	}
	return g.publisher.Publish(ctx, bus.ChannelModuleToggle, bus.ModuleToggle{
		TenantID: guildID,
		Module:   state.Name,
		Enabled:  state.Enabled,
		Config:   state.Config,
	})
}

// ReloadGuild is the writer-path helper for bulk resynchronization, used
// after changes with FK-dependent side effects. It clears every cached
// entry for the guild and broadcasts guild:reload.
func (g *GuildCache) ReloadGuild(ctx context.Context, guildID string) error {
	g.clearGuild(ctx, guildID)

	if g.publisher == nil {
		return nil
	}
	return g.publisher.Publish(ctx, bus.ChannelGuildReload, bus.GuildReload{TenantID: guildID})
}

// Stats returns cache statistics.
func (g *GuildCache) Stats() Stats {
	return Stats{
		LocalHits:     atomic.LoadInt64(&g.stats.LocalHits),
		LocalMisses:   atomic.LoadInt64(&g.stats.LocalMisses),
		RemoteHits:    atomic.LoadInt64(&g.stats.RemoteHits),
		RemoteMisses:  atomic.LoadInt64(&g.stats.RemoteMisses),
		Invalidations: atomic.LoadInt64(&g.stats.Invalidations),
		Reloads:       atomic.LoadInt64(&g.stats.Reloads),
	}
}

// Close releases the local cache.
func (g *GuildCache) Close() error {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return nil
	}
	g.local.Close()
	return nil
}

// handleConfigUpdate reacts to a remote (or local) settings change: drop
// the entry defensively, then reload from the source of truth. Re-delivery
// of the same envelope converges to the same cached value.
func (g *GuildCache) handleConfigUpdate(payload []byte) {
	var evt bus.ConfigUpdate
	if err := json.Unmarshal(payload, &evt); err != nil || evt.TenantID == "" {
		g.logger.Warn("dropping malformed config:update event", "error", err)
		return
	}

	ctx, cancel := g.reloadContext()
	defer cancel()

	key := ConfigKey(evt.TenantID)
	g.local.Delete(key)
	g.shared.Delete(ctx, key)
	atomic.AddInt64(&g.stats.Invalidations, 1)

	if _, err := g.loadConfig(ctx, evt.TenantID); err != nil {
		g.onError(err)
		g.logger.Warn("config reload failed, next read falls back to source", "guild", evt.TenantID, "error", err)
	}
}

// handleModuleToggle reacts to a module being switched on or off.
func (g *GuildCache) handleModuleToggle(payload []byte) {
	var evt bus.ModuleToggle
	if err := json.Unmarshal(payload, &evt); err != nil || evt.TenantID == "" || evt.Module == "" {
		g.logger.Warn("dropping malformed module:toggle event", "error", err)
		return
	}

	ctx, cancel := g.reloadContext()
	defer cancel()

	key := ModuleKey(evt.TenantID, evt.Module)
	g.local.Delete(key)
	g.shared.Delete(ctx, key)
	atomic.AddInt64(&g.stats.Invalidations, 1)

	if _, err := g.loadModule(ctx, evt.TenantID, evt.Module); err != nil {
		g.onError(err)
		g.logger.Warn("module reload failed, next read falls back to source", "guild", evt.TenantID, "module", evt.Module, "error", err)
	}
}

// handleGuildReload clears every shared entry matching the guild's key
// pattern. The local cache cannot be enumerated by prefix, so it is cleared
// wholesale; bulk resynchronization is rare enough for that to be cheap.
func (g *GuildCache) handleGuildReload(payload []byte) {
	var evt bus.GuildReload
	if err := json.Unmarshal(payload, &evt); err != nil || evt.TenantID == "" {
		g.logger.Warn("dropping malformed guild:reload event", "error", err)
		return
	}

	ctx, cancel := g.reloadContext()
	defer cancel()

	g.clearGuild(ctx, evt.TenantID)

	if _, err := g.loadConfig(ctx, evt.TenantID); err != nil {
		g.onError(err)
		g.logger.Warn("guild reload failed, next read falls back to source", "guild", evt.TenantID, "error", err)
	}
}

func (g *GuildCache) clearGuild(ctx context.Context, guildID string) {
	g.local.Clear()
	removed := g.shared.DeletePattern(ctx, GuildPattern(guildID))
	atomic.AddInt64(&g.stats.Invalidations, 1)
	g.logger.Debug("cleared guild cache entries", "guild", guildID, "removed", removed)
}

// loadConfig reads the settings from the source of truth and repopulates
// both layers with the TTL ceiling. Concurrent reloads of the same key are
// collapsed; racing repopulations across processes are benign because both
// observe the same committed state.
func (g *GuildCache) loadConfig(ctx context.Context, guildID string) (types.GuildSettings, error) {
	key := ConfigKey(guildID)

	value, err, _ := g.group.Do(key, func() (any, error) {
		settings, err := g.source.GuildConfig(ctx, guildID)
		if err != nil {
			return nil, err
		}
		g.repopulate(ctx, key, settings)
		return settings, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(types.GuildSettings), nil
}

// loadModule reads one module's state from the source of truth and
// repopulates both layers.
func (g *GuildCache) loadModule(ctx context.Context, guildID, module string) (types.ModuleState, error) {
	key := ModuleKey(guildID, module)

	value, err, _ := g.group.Do(key, func() (any, error) {
		state, err := g.source.ModuleState(ctx, guildID, module)
		if err != nil {
			return types.ModuleState{}, err
		}
		g.repopulate(ctx, key, state)
		return state, nil
	})
	if err != nil {
		return types.ModuleState{}, err
	}
	return value.(types.ModuleState), nil
}

func (g *GuildCache) repopulate(ctx context.Context, key string, value any) {
	atomic.AddInt64(&g.stats.Reloads, 1)

	data, err := g.marshaller.Marshal(value)
	if err != nil {
		g.onError(err)
		return
	}
	// Both layers get the ceiling: a process that never hears about a
	// change must still converge once the entry ages out.
	g.shared.Set(ctx, key, data, g.opts.TTLCeiling)
	g.local.Set(key, value, 1, g.opts.TTLCeiling)
}

func (g *GuildCache) reloadContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.opts.ContextTimeout)
}

func (g *GuildCache) onError(err error) {
	if g.opts.OnError != nil {
		g.opts.OnError(err)
	}
}

var _ SharedStore = (*store.Store)(nil)
