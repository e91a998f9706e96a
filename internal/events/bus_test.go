package events

import (
	"testing"
	"time"
)

func receiveOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Type: TypeReadingSaved, DeviceID: "meter-001", Key: "voltage", Value: 230.5})

	ev := receiveOne(t, ch)
	if ev.Type != TypeReadingSaved || ev.DeviceID != "meter-001" || ev.Key != "voltage" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe(TypeDeviceConnected)
	defer cancel()

	bus.Publish(Event{Type: TypeReadingSaved, DeviceID: "meter-001"})
	bus.Publish(Event{Type: TypeDeviceConnected, DeviceID: "meter-002"})

	ev := receiveOne(t, ch)
	if ev.Type != TypeDeviceConnected || ev.DeviceID != "meter-002" {
		t.Errorf("expected only the connected event, got %+v", ev)
	}

	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(Event{Type: TypeReadingSaved, DeviceID: "meter-001"})

	if ev := receiveOne(t, ch1); ev.DeviceID != "meter-001" {
		t.Errorf("subscriber 1 event = %+v", ev)
	}
	if ev := receiveOne(t, ch2); ev.DeviceID != "meter-001" {
		t.Errorf("subscriber 2 event = %+v", ev)
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(1, nil)
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	// Buffer depth is 1; the extra publishes must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: TypeReadingSaved, DeviceID: "meter-001"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBus_CancelRemovesSubscription(t *testing.T) {
	bus := NewBus(4, nil)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	if got := bus.SubscriberCount(); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	cancel()
	cancel() // safe to repeat

	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after cancel = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(4, nil)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after bus close")
	}
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after close = %d, want 0", got)
	}
}
