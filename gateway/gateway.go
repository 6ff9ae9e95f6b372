// Package gateway implements the persistent-connection gateway: it
// authenticates websocket handshakes, scopes connections into
// authorization-gated guild rooms, re-emits bus events as room-scoped
// pushes and forcibly evicts connections whose authorization is revoked
// mid-session.
//
// The connection registry is process-local. Running multiple gateway
// instances behind a load balancer would need sticky routing per user or
// gateway-to-gateway forwarding over the bus; neither is implemented.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/guildkit/realtime-sync/bus"
	"github.com/guildkit/realtime-sync/store"
)

// Logger is an alias for store.Logger.
type Logger = store.Logger

// RoomAuthorizer answers room membership questions against the source of
// truth: does the user own the guild or hold an elevated membership role
// for it.
type RoomAuthorizer interface {
	// CanJoin reports whether the user may join the guild's room.
	CanJoin(ctx context.Context, userID, guildID string) (bool, error)

	// EntitledGuilds lists every guild the user may receive pushes for,
	// used to auto-join rooms right after authentication.
	EntitledGuilds(ctx context.Context, userID string) ([]string, error)
}

// Options configures a Gateway instance.
type Options struct {
	// Verifier validates handshake bearer tokens. Required.
	Verifier TokenVerifier

	// Authorizer gates room membership. Required.
	Authorizer RoomAuthorizer

	// Logger defaults to no-op.
	Logger Logger

	// SendBuffer is the per-connection outgoing queue size.
	SendBuffer int

	// ContextTimeout bounds authorization checks.
	ContextTimeout time.Duration

	// CheckOrigin overrides the websocket origin check.
	CheckOrigin func(r *http.Request) bool
}

// DefaultOptions returns default gateway options.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     32,
		ContextTimeout: 5 * time.Second,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Verifier == nil || o.Authorizer == nil {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when gateway options are invalid.
var ErrInvalidConfig = errors.New("gateway: verifier and authorizer are required")

// Gateway owns the per-process connection registry and the fan-out from
// bus events to room-scoped websocket pushes.
type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader
	reg      *registry
	logger   Logger
	closed   int32
}

// New creates a Gateway.
func New(opts Options) (*Gateway, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = store.NewNoOpLogger()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.ContextTimeout <= 0 {
		opts.ContextTimeout = 5 * time.Second
	}

	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Gateway{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		reg:      newRegistry(),
		logger:   opts.Logger,
	}, nil
}

// BindBus subscribes the gateway's fan-out handlers to every channel it
// re-emits.
func (g *Gateway) BindBus(sub bus.Subscriber) error {
	roomScoped := map[string]string{
		bus.ChannelConfigUpdate:    EventConfigUpdated,
		bus.ChannelModuleToggle:    EventModuleToggled,
		bus.ChannelGuildReload:     EventGuildReload,
		bus.ChannelCommandExecuted: EventCommandExecuted,
	}
	for channel, event := range roomScoped {
		event := event
		if err := sub.Subscribe(channel, func(payload []byte) {
			g.fanOut(event, payload)
		}); err != nil {
			return err
		}
	}
	return sub.Subscribe(bus.ChannelPermissionRevoked, g.handlePermissionRevoked)
}

// Handler returns the websocket endpoint.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.serveWS)
}

// Close evicts every live connection and clears the registry.
func (g *Gateway) Close() error {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return nil
	}
	for _, c := range g.reg.all() {
		g.reg.remove(c)
		c.close()
	}
	return nil
}

// serveWS authenticates the handshake, upgrades the connection and runs
// the read loop. Verification failure rejects the connection before the
// handshake completes; the client must reconnect with a valid token.
func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&g.closed) != 0 {
		http.Error(w, "gateway shutting down", http.StatusServiceUnavailable)
		return
	}

	token := bearerToken(r)
	if token == "" {
		g.logger.Warn("handshake rejected: no token", "remote", r.RemoteAddr)
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	userID, err := g.opts.Verifier.Verify(token)
	if err != nil {
		g.logger.Warn("handshake rejected: token verification failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.NewString(), userID, conn, g.opts.SendBuffer)
	g.reg.add(c)
	g.logger.Info("connection established", "user", userID, "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()

	// Auto-join every room the user is entitled to, so clients need not
	// enumerate their guilds before receiving pushes.
	g.autoJoin(c)

	g.readLoop(c)
}

func (g *Gateway) autoJoin(c *client) {
	ctx, cancel := g.authContext()
	defer cancel()

	guilds, err := g.opts.Authorizer.EntitledGuilds(ctx, c.userID)
	if err != nil {
		// Fail closed: the client can still join rooms explicitly once
		// the source of truth recovers.
		g.logger.Warn("auto-join skipped: entitlement lookup failed", "user", c.userID, "error", err)
		return
	}
	for _, guildID := range guilds {
		g.reg.join(guildID, c)
	}
}

func (g *Gateway) readLoop(c *client) {
	defer g.disconnect(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(errorMessage("invalid message"))
			continue
		}
		g.handleClientMessage(c, msg)
	}
}

func (g *Gateway) handleClientMessage(c *client, msg clientMessage) {
	switch msg.Type {
	case eventJoinGuild:
		g.handleJoin(c, msg.TenantID)

	case eventLeaveGuild:
		if msg.TenantID != "" {
			g.reg.leave(msg.TenantID, c)
		}

	case eventPing:
		c.trySend(serverMessage{
			Type:    EventPong,
			Payload: map[string]int64{"timestamp": time.Now().UnixMilli()},
		})

	default:
		c.trySend(errorMessage("unknown event: " + msg.Type))
	}
}

// handleJoin authorizes an explicit room join. Authorization denial is an
// expected, user-facing outcome; a source-of-truth error is treated as
// denial (fail closed). A disconnect during the pending check makes the
// join a no-op against a dead connection.
func (g *Gateway) handleJoin(c *client, guildID string) {
	if guildID == "" {
		c.trySend(errorMessage("missing tenantId"))
		return
	}

	ctx, cancel := g.authContext()
	defer cancel()

	ok, err := g.opts.Authorizer.CanJoin(ctx, c.userID, guildID)
	if err != nil {
		g.logger.Warn("room authorization check failed", "user", c.userID, "guild", guildID, "error", err)
		c.trySend(errorMessage("not authorized for guild " + guildID))
		return
	}
	if !ok {
		c.trySend(errorMessage("not authorized for guild " + guildID))
		return
	}

	g.reg.join(guildID, c)
	g.logger.Debug("joined room", "user", c.userID, "guild", guildID, "conn", c.id)
}

func (g *Gateway) disconnect(c *client) {
	g.reg.remove(c)
	c.close()
	g.logger.Info("connection closed", "user", c.userID, "conn", c.id)
}

// fanOut re-emits a bus envelope to every connection in the affected
// guild's room, with a fresh timestamp.
func (g *Gateway) fanOut(event string, payload []byte) {
	fields, ok := decodeEnvelope(payload)
	if !ok {
		g.logger.Warn("dropping malformed bus envelope", "event", event)
		return
	}
	guildID, _ := fields["tenantId"].(string)
	if guildID == "" {
		g.logger.Warn("dropping bus envelope without tenantId", "event", event)
		return
	}

	fields["timestamp"] = time.Now().UnixMilli()
	msg := serverMessage{Type: event, Payload: fields}

	for _, c := range g.reg.roomClients(guildID) {
		if !c.trySend(msg) {
			g.logger.Warn("dropped frame for slow client", "conn", c.id, "event", event)
		}
	}
}

// handlePermissionRevoked is user-scoped rather than room-scoped: every
// connection of the named user is removed from the guild's room and told
// to leave that context.
func (g *Gateway) handlePermissionRevoked(payload []byte) {
	var evt bus.PermissionRevoked
	if err := json.Unmarshal(payload, &evt); err != nil || evt.TenantID == "" || evt.UserID == "" {
		g.logger.Warn("dropping malformed permission:revoked event", "error", err)
		return
	}

	evicted := g.reg.evict(evt.TenantID, evt.UserID)
	if len(evicted) == 0 {
		return
	}

	msg := serverMessage{
		Type: EventPermissionRevoked,
		Payload: map[string]any{
			"tenantId":  evt.TenantID,
			"reason":    evt.Reason,
			"action":    "redirect_home",
			"timestamp": time.Now().UnixMilli(),
		},
	}
	for _, c := range evicted {
		c.trySend(msg)
	}
	g.logger.Info("evicted user from room", "user", evt.UserID, "guild", evt.TenantID, "connections", len(evicted))
}

func (g *Gateway) authContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.opts.ContextTimeout)
}
