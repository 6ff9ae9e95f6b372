package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/guildkit/realtime-sync/store"
)

// blockedRetryAfter is the fixed retry-after communicated on block-list
// rejections, in seconds.
const blockedRetryAfter = 3600

// Middleware applies the block-list and both limiter scopes to HTTP
// requests. The IP limiter always runs; the user limiter runs in addition
// when UserID resolves a caller — a request can be rejected by either.
type Middleware struct {
	// IP is the IP-scoped limiter. Required.
	IP *Limiter

	// User is the user-scoped limiter, applied when UserID returns a
	// non-empty id. Optional.
	User *Limiter

	// Blocklist short-circuits both limiters. Optional.
	Blocklist *Blocklist

	// UserID extracts the authenticated user id from a request, or ""
	// for anonymous callers.
	UserID func(r *http.Request) string

	// Logger defaults to no-op.
	Logger Logger
}

// Handler wraps next with rate limiting.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = store.NewNoOpLogger()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := clientIP(r)

		userID := ""
		if m.UserID != nil {
			userID = m.UserID(r)
		}

		if m.Blocklist != nil {
			if m.Blocklist.IsBlocked(ctx, ip) || (userID != "" && m.Blocklist.IsBlocked(ctx, "user:"+userID)) {
				w.Header().Set("Retry-After", strconv.Itoa(blockedRetryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":      "temporarily blocked",
					"retryAfter": blockedRetryAfter,
				})
				return
			}
		}

		result := m.IP.Allow(ctx, ip)

		if userID != "" && m.User != nil {
			userResult := m.User.Allow(ctx, userID)
			// Communicate the tighter of the two scopes.
			if userResult.Remaining < result.Remaining || !userResult.Allowed {
				result = userResult
			}
		}

		if !result.Allowed {
			logger.Debug("rate limit exceeded", "ip", ip, "user", userID)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":     "rate limit exceeded",
				"remaining": result.Remaining,
				"resetAt":   result.ResetAt.UnixMilli(),
			})
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
