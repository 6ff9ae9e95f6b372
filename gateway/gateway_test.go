package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildkit/realtime-sync/bus"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (string, error) {
	if !strings.HasPrefix(token, "user:") {
		return "", ErrInvalidToken
	}
	return strings.TrimPrefix(token, "user:"), nil
}

type fakeAuthorizer struct {
	entitled map[string][]string
	allowed  map[string]bool
	err      error
}

func (f *fakeAuthorizer) CanJoin(_ context.Context, userID, guildID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[userID+"/"+guildID], nil
}

func (f *fakeAuthorizer) EntitledGuilds(_ context.Context, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entitled[userID], nil
}

// fakeBus captures subscribed handlers so tests can inject events
// synchronously.
type fakeBus struct {
	handlers map[string][]bus.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]bus.Handler)}
}

func (b *fakeBus) Subscribe(channel string, h bus.Handler) error {
	b.handlers[channel] = append(b.handlers[channel], h)
	return nil
}

func (b *fakeBus) Emit(channel string, payload []byte) {
	for _, h := range b.handlers[channel] {
		h(payload)
	}
}

type received struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func newTestGateway(t *testing.T, auth *fakeAuthorizer) (*Gateway, *fakeBus, *httptest.Server) {
	t.Helper()
	gw, err := New(Options{
		Verifier:   fakeVerifier{},
		Authorizer: auth,
	})
	require.NoError(t, err)

	fb := newFakeBus()
	require.NoError(t, gw.BindBus(fb))

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		gw.Close()
	})
	return gw, fb, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	_, _, srv := newTestGateway(t, &fakeAuthorizer{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	_, _, srv := newTestGateway(t, &fakeAuthorizer{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPingPong(t *testing.T) {
	_, _, srv := newTestGateway(t, &fakeAuthorizer{})
	conn := dial(t, srv, "user:alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	msg := readMessage(t, conn)
	assert.Equal(t, EventPong, msg.Type)
	assert.Contains(t, msg.Payload, "timestamp")
}

func TestAutoJoinReceivesRoomBroadcast(t *testing.T) {
	auth := &fakeAuthorizer{entitled: map[string][]string{"alice": {"g1"}}}
	gw, fb, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 1 })

	fb.Emit("config:update", []byte(`{"tenantId":"g1","config":{"prefix":"!"}}`))

	msg := readMessage(t, conn)
	assert.Equal(t, EventConfigUpdated, msg.Type)
	assert.Equal(t, "g1", msg.Payload["tenantId"])
	assert.Contains(t, msg.Payload, "timestamp")
}

func TestExplicitJoinAuthorized(t *testing.T) {
	auth := &fakeAuthorizer{allowed: map[string]bool{"alice/g1": true}}
	gw, fb, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join:guild", "tenantId": "g1"}))
	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 1 })

	fb.Emit("module:toggle", []byte(`{"tenantId":"g1","moduleName":"automod","enabled":false}`))

	msg := readMessage(t, conn)
	assert.Equal(t, EventModuleToggled, msg.Type)
	assert.Equal(t, "automod", msg.Payload["moduleName"])
	assert.Equal(t, false, msg.Payload["enabled"])
}

func TestJoinDeniedNeverJoinsRoom(t *testing.T) {
	auth := &fakeAuthorizer{}
	gw, fb, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join:guild", "tenantId": "g1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, EventError, msg.Type)
	assert.Equal(t, 0, gw.reg.roomSize("g1"))

	// A broadcast for the denied room must not reach the client. The
	// following ping response arriving first proves nothing was queued.
	fb.Emit("config:update", []byte(`{"tenantId":"g1"}`))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readMessage(t, conn).Type)
}

func TestJoinFailsClosedOnAuthorizerError(t *testing.T) {
	auth := &fakeAuthorizer{err: errors.New("db down")}
	gw, _, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join:guild", "tenantId": "g1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, EventError, msg.Type)
	assert.Equal(t, 0, gw.reg.roomSize("g1"))
}

func TestPermissionRevokedEvictsUser(t *testing.T) {
	auth := &fakeAuthorizer{entitled: map[string][]string{
		"alice": {"g1"},
		"bob":   {"g1"},
	}}
	gw, fb, srv := newTestGateway(t, auth)
	alice := dial(t, srv, "user:alice")
	bob := dial(t, srv, "user:bob")

	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 2 })

	fb.Emit("permission:revoked", []byte(`{"tenantId":"g1","userId":"alice","reason":"role removed"}`))

	msg := readMessage(t, alice)
	assert.Equal(t, EventPermissionRevoked, msg.Type)
	assert.Equal(t, "g1", msg.Payload["tenantId"])
	assert.Equal(t, "role removed", msg.Payload["reason"])
	assert.Equal(t, "redirect_home", msg.Payload["action"])

	assert.Equal(t, 1, gw.reg.roomSize("g1"))

	// Alice no longer receives room broadcasts; Bob still does.
	fb.Emit("guild:reload", []byte(`{"tenantId":"g1"}`))
	assert.Equal(t, EventGuildReload, readMessage(t, bob).Type)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readMessage(t, alice).Type)
}

func TestUnknownEventReturnsError(t *testing.T) {
	_, _, srv := newTestGateway(t, &fakeAuthorizer{})
	conn := dial(t, srv, "user:alice")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "self:destruct"}))

	msg := readMessage(t, conn)
	assert.Equal(t, EventError, msg.Type)
}

func TestDisconnectCleansRegistry(t *testing.T) {
	auth := &fakeAuthorizer{entitled: map[string][]string{"alice": {"g1"}}}
	gw, _, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 1 })

	conn.Close()

	waitFor(t, func() bool {
		return gw.reg.roomSize("g1") == 0 && gw.reg.userCount() == 0
	})
}

func TestLeaveGuildStopsBroadcasts(t *testing.T) {
	auth := &fakeAuthorizer{entitled: map[string][]string{"alice": {"g1"}}}
	gw, fb, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 1 })

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "leave:guild", "tenantId": "g1"}))
	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 0 })

	fb.Emit("config:update", []byte(`{"tenantId":"g1"}`))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readMessage(t, conn).Type)
}

func TestMalformedEnvelopeDropped(t *testing.T) {
	auth := &fakeAuthorizer{entitled: map[string][]string{"alice": {"g1"}}}
	gw, fb, srv := newTestGateway(t, auth)
	conn := dial(t, srv, "user:alice")

	waitFor(t, func() bool { return gw.reg.roomSize("g1") == 1 })

	fb.Emit("config:update", []byte(`{not json`))
	fb.Emit("config:update", []byte(`{"noTenant":true}`))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readMessage(t, conn).Type)
}

func TestJWTVerifier(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	userID, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = v.Verify(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signedExpired, err := expired.SignedString(secret)
	require.NoError(t, err)
	_, err = v.Verify(signedExpired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRequiresVerifierAndAuthorizer(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Options{Verifier: fakeVerifier{}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
