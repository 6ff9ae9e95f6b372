package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/guildkit/realtime-sync/store"
	"github.com/guildkit/realtime-sync/types"
)

func setupBus(t *testing.T) (*Bus, *store.Store) {
	opts := store.DefaultOptions()
	opts.DB = 1 // Use DB 1 for tests

	s, err := store.New(opts)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	s.Client().FlushDB(context.Background())

	b := New(s, store.NewNoOpLogger())
	return b, s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestBusPublishSubscribe(t *testing.T) {
	b, s := setupBus(t)
	defer s.Close()
	defer b.Close()

	received := make(chan ConfigUpdate, 1)
	err := b.Subscribe(ChannelConfigUpdate, func(payload []byte) {
		var evt ConfigUpdate
		if err := json.Unmarshal(payload, &evt); err != nil {
			return
		}
		received <- evt
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Give the subscriber a moment to attach
	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	settings := types.GuildSettings{"prefix": json.RawMessage(`"!"`)}
	if err := b.Publish(ctx, ChannelConfigUpdate, ConfigUpdate{TenantID: "g1", Settings: settings}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case evt := <-received:
		if evt.TenantID != "g1" {
			t.Fatalf("Expected tenant g1, got %s", evt.TenantID)
		}
		if evt.Timestamp == 0 {
			t.Fatal("Publisher should stamp the envelope")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Event not received")
	}
}

func TestBusMultipleChannels(t *testing.T) {
	b, s := setupBus(t)
	defer s.Close()
	defer b.Close()

	var gotToggle, gotReload bool
	done := make(chan struct{}, 2)

	b.Subscribe(ChannelModuleToggle, func(payload []byte) {
		gotToggle = true
		done <- struct{}{}
	})
	b.Subscribe(ChannelGuildReload, func(payload []byte) {
		gotReload = true
		done <- struct{}{}
	})

	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	b.Publish(ctx, ChannelModuleToggle, ModuleToggle{TenantID: "g1", Module: "economy", Enabled: false})
	b.Publish(ctx, ChannelGuildReload, GuildReload{TenantID: "g1"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Events not received")
		}
	}

	if !gotToggle || !gotReload {
		t.Fatalf("Expected both channels delivered, toggle=%v reload=%v", gotToggle, gotReload)
	}
}

func TestBusMalformedMessageDropped(t *testing.T) {
	b, s := setupBus(t)
	defer s.Close()
	defer b.Close()

	var calls int
	b.Subscribe(ChannelConfigUpdate, func(payload []byte) {
		calls++
	})

	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	// Raw publish bypassing the envelope, not valid JSON
	s.Client().Publish(ctx, ChannelConfigUpdate, "{not json")

	b.Publish(ctx, ChannelConfigUpdate, ConfigUpdate{TenantID: "g1"})

	waitFor(t, 2*time.Second, func() bool { return calls >= 1 })
	if calls != 1 {
		t.Fatalf("Expected exactly one handler call, got %d", calls)
	}
}

func TestBusHandlerPanicDoesNotKillDispatch(t *testing.T) {
	b, s := setupBus(t)
	defer s.Close()
	defer b.Close()

	survived := make(chan struct{}, 1)

	b.Subscribe(ChannelCommandExecuted, func(payload []byte) {
		panic("handler bug")
	})
	b.Subscribe(ChannelCommandExecuted, func(payload []byte) {
		survived <- struct{}{}
	})

	time.Sleep(100 * time.Millisecond)

	ctx := context.Background()
	b.Publish(ctx, ChannelCommandExecuted, CommandExecuted{
		TenantID: "g1",
		Command:  "balance",
		Executor: "u1",
		Result:   types.ResultSuccess,
	})

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("Second handler should run despite the first panicking")
	}
}

func TestBusPublishNoSubscriberIsNoOp(t *testing.T) {
	b, s := setupBus(t)
	defer s.Close()
	defer b.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, ChannelGuildReload, GuildReload{TenantID: "g1"}); err != nil {
		t.Fatalf("Publishing with no subscriber should succeed: %v", err)
	}
}
