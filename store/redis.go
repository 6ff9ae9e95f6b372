package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("key not found in store")

// Options configures a Store instance.
type Options struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration

	// CommandTimeout is the per-command read/write timeout.
	CommandTimeout time.Duration

	// Logger is used for degradation warnings. Defaults to no-op.
	Logger Logger
}

// DefaultOptions returns default store options.
func DefaultOptions() Options {
	return Options{
		Addr:           "localhost:6379",
		DB:             0,
		DialTimeout:    5 * time.Second,
		CommandTimeout: 3 * time.Second,
	}
}

// Store is the shared low-latency key/value store backing the cache, the
// event bus and the rate limiters. Every process coordinates exclusively
// through it; there is no other shared state.
//
// Read/write methods fail soft: on a command error they log once per outage
// and return a neutral empty result. Callers must treat the store as a
// best-effort optimization layer, never a correctness-critical one.
type Store struct {
	client   *redis.Client
	logger   Logger
	degraded int32
}

// New creates a new Store and verifies connectivity.
func New(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.CommandTimeout,
		WriteTimeout: opts.CommandTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Store{
		client: client,
		logger: opts.Logger,
	}, nil
}

// NewFromClient wraps an existing Redis client. Used by tests and by callers
// that manage the client lifecycle themselves.
func NewFromClient(client *redis.Client, logger Logger) *Store {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Store{client: client, logger: logger}
}

// Get retrieves a value. Returns false when the key is absent or the store
// is unreachable; absence is the only hard guarantee callers may rely on.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.failSoft("get", err)
		}
		return nil, false
	}
	s.recover()
	return val, true
}

// Set stores a value with an optional TTL. A ttl of zero means no expiry.
// Errors are swallowed after logging.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.failSoft("set", err)
		return
	}
	s.recover()
}

// Delete removes the given keys. Errors are swallowed after logging.
func (s *Store) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.failSoft("delete", err)
		return
	}
	s.recover()
}

// Exists reports whether a key is present. Unreachable store reads as absent.
func (s *Store) Exists(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.failSoft("exists", err)
		return false
	}
	s.recover()
	return n > 0
}

// DeletePattern removes every key matching the glob pattern using SCAN and
// returns the number of keys removed. Used for tenant-scoped bulk clears.
func (s *Store) DeletePattern(ctx context.Context, pattern string) int {
	var removed int
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				s.failSoft("delete-pattern", err)
				return removed
			}
			removed += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		s.failSoft("scan", err)
		return removed
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			s.failSoft("delete-pattern", err)
			return removed
		}
		removed += len(batch)
	}
	s.recover()
	return removed
}

// incrWithExpiry creates the key with count=1 and the given expiry when it
// does not exist; otherwise it increments, leaving the existing expiry
// untouched.
var incrWithExpiry = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count`)

// IncrementWithExpiry atomically increments a fixed-window counter.
// Unlike the key/value methods this returns the error: the rate limiter
// decides fail-open on its own.
func (s *Store) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error) {
	seconds := int(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	count, err := incrWithExpiry.Run(ctx, s.client, []string{key}, seconds).Int64()
	if err != nil {
		s.failSoft("increment", err)
		return 0, err
	}
	s.recover()
	return count, nil
}

// TTL returns the remaining time-to-live of a key, or zero when the key has
// no expiry, does not exist, or the store is unreachable.
func (s *Store) TTL(ctx context.Context, key string) time.Duration {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		s.failSoft("ttl", err)
		return 0
	}
	s.recover()
	if ttl < 0 {
		return 0
	}
	return ttl
}

// DuplicateForSubscription returns a second logical connection dedicated to
// receiving published messages. A connection used for subscribing cannot
// issue other store commands while subscribed.
func (s *Store) DuplicateForSubscription() *redis.Client {
	return redis.NewClient(s.client.Options())
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the store connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// failSoft records a command failure, logging only on the transition into
// the degraded state so an outage produces one warning, not one per request.
func (s *Store) failSoft(op string, err error) {
	if atomic.CompareAndSwapInt32(&s.degraded, 0, 1) {
		s.logger.Warn("shared store unavailable, degrading to source-of-truth reads", "op", op, "error", err)
	}
}

// recover clears the degraded state after a successful command.
func (s *Store) recover() {
	if atomic.CompareAndSwapInt32(&s.degraded, 1, 0) {
		s.logger.Info("shared store connection recovered")
	}
}
