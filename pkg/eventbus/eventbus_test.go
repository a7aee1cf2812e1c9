package eventbus

import (
	"testing"
	"time"
)

func change(id, status string) *Change {
	return &Change{Collection: "issue_collection", ID: id, Data: map[string]any{"status": status}}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	key := Key("issue_collection", "c1")
	ch := bus.Subscribe(key)

	bus.Publish(key, change("c1", "completed"))

	select {
	case got := <-ch:
		if got.Data["status"] != "completed" {
			t.Fatalf("unexpected change data: %v", got.Data)
		}
		if got.Key() != key {
			t.Errorf("Key() = %q, want %q", got.Key(), key)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("did not receive change")
	}

	bus.Unsubscribe(key, ch)
}

func TestDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("k2")

	// Fill channel to capacity without reading.
	for i := 0; i < SubscriberBuffer; i++ {
		bus.Publish("k2", change("k2", "pending"))
	}

	done := make(chan struct{})
	go func() {
		// This publish should be dropped and return immediately.
		bus.Publish("k2", change("k2", "overflow"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("publish blocked on full channel")
	}

	for i := 0; i < SubscriberBuffer; i++ {
		if got := (<-ch).Data["status"]; got != "pending" {
			t.Fatalf("change %d has status %v, want pending", i, got)
		}
	}
	select {
	case c := <-ch:
		t.Fatalf("received %v, want the overflow change dropped", c.Data)
	default:
	}

	bus.Unsubscribe("k2", ch)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	ch1 := bus.Subscribe("k3")
	ch2 := bus.Subscribe("k3")

	bus.Publish("k3", change("k3", "hello"))

	for _, ch := range []chan *Change{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Data["status"] != "hello" {
				t.Fatalf("unexpected data: %v", got.Data)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("subscriber did not receive change")
		}
	}

	bus.Unsubscribe("k3", ch1)
	bus.Unsubscribe("k3", ch2)
}

func TestPublishToOtherKey(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("k4")

	bus.Publish("other", change("other", "x"))

	select {
	case <-ch:
		t.Fatal("should not receive change for a different key")
	case <-time.After(100 * time.Millisecond):
	}

	bus.Unsubscribe("k4", ch)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("k5")

	bus.Unsubscribe("k5", ch)

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
