// Package telemetry_test provides tests for the event sink.
package telemetry_test

import (
	"testing"
	"time"

	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

func orderEvent(kind telemetry.Kind, id string) telemetry.Event {
	return telemetry.NewOrderEvent(kind, types.Order{ID: id, BotID: "bot-1", Status: types.OrderStatusSubmitted}, time.Now())
}

func TestSubscribeByKind(t *testing.T) {
	sink := telemetry.NewSink(zap.NewNop(), telemetry.DefaultSinkConfig())
	defer sink.Stop()

	orders := sink.Subscribe(telemetry.KindOrderSubmitted)
	defer orders.Close()
	all := sink.Subscribe()
	defer all.Close()

	sink.Publish(orderEvent(telemetry.KindOrderSubmitted, "o-1"))
	sink.Publish(telemetry.NewBotStateEvent("bot-1", types.BotStateCreated, types.BotStateRunning, "", time.Now()))

	select {
	case ev := <-orders.C():
		if ev.Kind != telemetry.KindOrderSubmitted {
			t.Fatalf("filtered subscription received %s", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filtered subscription received nothing")
	}

	got := map[telemetry.Kind]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all.C():
			got[ev.Kind] = true
		case <-time.After(2 * time.Second):
			t.Fatal("firehose subscription timed out")
		}
	}
	if !got[telemetry.KindOrderSubmitted] || !got[telemetry.KindBotStateChange] {
		t.Fatalf("firehose missed kinds: %v", got)
	}

	select {
	case ev := <-orders.C():
		t.Fatalf("filtered subscription received unexpected %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	sink := telemetry.NewSink(zap.NewNop(), telemetry.SinkConfig{QueueSize: 8, SubscriberBuffer: 4})
	defer sink.Stop()

	// A subscriber that never reads.
	stuck := sink.Subscribe(telemetry.KindOrderSubmitted)
	defer stuck.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			sink.Publish(orderEvent(telemetry.KindOrderSubmitted, "o"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Give the dispatcher a moment, then check that shedding happened
	// instead of blocking.
	time.Sleep(100 * time.Millisecond)
	stats := sink.Stats()
	if stats.Published != 10000 {
		t.Fatalf("published = %d, want 10000", stats.Published)
	}
	if stats.Dropped == 0 {
		t.Fatal("expected dropped events under backpressure")
	}
}

func TestDropOldestKeepsNewest(t *testing.T) {
	sink := telemetry.NewSink(zap.NewNop(), telemetry.SinkConfig{QueueSize: 64, SubscriberBuffer: 2})
	defer sink.Stop()

	sub := sink.Subscribe(telemetry.KindOrderSubmitted)
	defer sub.Close()

	for i := 0; i < 6; i++ {
		sink.Publish(orderEvent(telemetry.KindOrderSubmitted, string(rune('a'+i))))
	}
	time.Sleep(100 * time.Millisecond)

	// Buffer holds two events; the newest published must be among them.
	var ids []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.C():
			ids = append(ids, ev.Payload.(telemetry.OrderPayload).Order.ID)
		case <-time.After(time.Second):
			t.Fatal("expected buffered events")
		}
	}
	if ids[len(ids)-1] != "f" {
		t.Fatalf("newest event lost, buffer tail = %v", ids)
	}
}

func TestCloseTerminatesConsumer(t *testing.T) {
	sink := telemetry.NewSink(zap.NewNop(), telemetry.DefaultSinkConfig())
	defer sink.Stop()

	sub := sink.Subscribe()
	finished := make(chan struct{})
	go func() {
		for range sub.C() {
		}
		close(finished)
	}()

	sub.Close()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("consumer loop did not terminate after Close")
	}
}
