// Package bus implements a typed publish/subscribe message bus over the
// shared store's pub/sub facility.
//
// Delivery is at-most-once and fire-and-forget: there is no buffering, no
// replay and no acknowledgment. A subscriber that is disconnected at publish
// time permanently misses the message. This is an accepted consistency
// model, not an oversight — every handler's reaction is "invalidate and
// reload", which converges even when intermediate messages are lost.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guildkit/realtime-sync/store"
)

// Logger is an alias for store.Logger.
type Logger = store.Logger

// Handler is invoked once per received message with the raw JSON envelope.
// Handlers must parse defensively; the bus drops malformed payloads before
// they reach handlers only when the envelope itself is not valid JSON.
type Handler func(payload []byte)

// Publisher is the subset of the bus used by write paths.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Subscriber is the subset of the bus used by read paths and the gateway.
type Subscriber interface {
	Subscribe(channel string, handler Handler) error
}

// Bus fans messages out over named channels. Publishing uses the shared
// command connection; receiving uses a dedicated duplicated connection,
// since a subscribed connection cannot issue other commands.
type Bus struct {
	pub    *redis.Client
	sub    *redis.Client
	pubsub *redis.PubSub
	logger Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Bus on top of the shared store.
func New(st *store.Store, logger Logger) *Bus {
	if logger == nil {
		logger = store.NewNoOpLogger()
	}
	return &Bus{
		pub:      st.Client(),
		sub:      st.DuplicateForSubscription(),
		logger:   logger,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
}

// Publish serializes the payload fields plus a fresh timestamp (epoch
// milliseconds) to JSON and fans it out to every currently-subscribed
// connection on the channel. Publishing with no subscriber is a silent
// no-op.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// Flatten the payload and stamp it. Envelopes are immutable once sent.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	ts, _ := json.Marshal(time.Now().UnixMilli())
	fields["timestamp"] = ts

	envelope, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	if err := b.pub.Publish(ctx, channel, envelope).Err(); err != nil {
		b.logger.Warn("bus publish failed", "channel", channel, "error", err)
		return err
	}
	return nil
}

// Subscribe registers a handler for a channel. The first subscription
// starts the receive loop; later subscriptions extend it. Within a process,
// handlers for a channel run in receipt order.
func (b *Bus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	first := b.pubsub == nil
	b.handlers[channel] = append(b.handlers[channel], handler)

	if first {
		b.pubsub = b.sub.Subscribe(context.Background(), channel)
		b.wg.Add(1)
		go b.listen()
		return nil
	}

	return b.pubsub.Subscribe(context.Background(), channel)
}

// Close stops the receive loop and closes the subscriber connection.
func (b *Bus) Close() error {
	close(b.done)

	b.mu.Lock()
	ps := b.pubsub
	b.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
	}
	b.wg.Wait()

	if cerr := b.sub.Close(); err == nil {
		err = cerr
	}
	return err
}

// listen receives messages and dispatches them to registered handlers.
func (b *Bus) listen() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			b.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

// dispatch invokes every handler registered for the channel. A malformed
// envelope is logged and dropped. The dispatcher owns failure handling: a
// panicking handler is logged and the loop continues, so no handler can
// terminate the process.
func (b *Bus) dispatch(channel string, payload []byte) {
	if !json.Valid(payload) {
		b.logger.Warn("dropping malformed bus message", "channel", channel)
		return
	}

	b.mu.RLock()
	handlers := b.handlers[channel]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(channel, handler, payload)
	}
}

func (b *Bus) invoke(channel string, handler Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "channel", channel, "panic", r)
		}
	}()
	handler(payload)
}
