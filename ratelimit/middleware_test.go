package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, h http.Handler, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareHeadersOnAccept(t *testing.T) {
	counter := newFakeCounter()
	mw := &Middleware{
		IP: NewLimiter(counter, "rl:ip", 5, time.Minute),
	}
	h := mw.Handler(okHandler())

	rec := doRequest(t, h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	counter := newFakeCounter()
	mw := &Middleware{
		IP: NewLimiter(counter, "rl:ip", 2, time.Minute),
	}
	h := mw.Handler(okHandler())

	require.Equal(t, http.StatusOK, doRequest(t, h, "").Code)
	require.Equal(t, http.StatusOK, doRequest(t, h, "").Code)

	rec := doRequest(t, h, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		Error     string `json:"error"`
		Remaining *int   `json:"remaining"`
		ResetAt   *int64 `json:"resetAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)
	require.NotNil(t, body.Remaining)
	assert.Equal(t, 0, *body.Remaining)
	assert.NotNil(t, body.ResetAt)
}

func TestMiddlewareUserLimiterAlsoApplies(t *testing.T) {
	counter := newFakeCounter()
	mw := &Middleware{
		IP:   NewLimiter(counter, "rl:ip", 100, time.Minute),
		User: NewLimiter(counter, "rl:user", 1, time.Minute),
		UserID: func(r *http.Request) string {
			return r.Header.Get("X-Test-User")
		},
	}
	h := mw.Handler(okHandler())

	require.Equal(t, http.StatusOK, doRequest(t, h, "u1").Code)

	// IP limiter would still allow, but the user limiter rejects.
	rec := doRequest(t, h, "u1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Anonymous requests from the same IP are untouched by the user scope.
	assert.Equal(t, http.StatusOK, doRequest(t, h, "").Code)
}

func TestMiddlewareBlocklistShortCircuits(t *testing.T) {
	counter := newFakeCounter()
	flags := newFakeFlags()
	bl := NewBlocklist(flags)
	defer bl.Close()

	mw := &Middleware{
		IP:        NewLimiter(counter, "rl:ip", 100, time.Minute),
		Blocklist: bl,
	}
	h := mw.Handler(okHandler())

	bl.Block(t.Context(), "10.0.0.1", time.Hour)

	rec := doRequest(t, h, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "temporarily blocked", body.Error)
	assert.Equal(t, blockedRetryAfter, body.RetryAfter)

	// The limiter never ran: no window was consumed.
	res := mw.IP.Allow(t.Context(), "10.0.0.1")
	assert.Equal(t, 99, res.Remaining)
}
