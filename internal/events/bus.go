package events

import (
	"sync"
	"time"
)

// Type classifies an event.
type Type string

// Event types published on the bus.
const (
	// TypeReadingSaved fires after a telemetry reading is persisted.
	TypeReadingSaved Type = "reading_saved"

	// TypeDeviceConnected fires when a device session opens.
	TypeDeviceConnected Type = "device_connected"

	// TypeDeviceDisconnected fires when a device session closes.
	TypeDeviceDisconnected Type = "device_disconnected"
)

// Event is one occurrence delivered to subscribers.
type Event struct {
	Type      Type
	DeviceID  string
	Key       string
	Value     any
	Timestamp time.Time
}

// Logger interface for bus logging.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}

// subscriber is one registered event consumer.
type subscriber struct {
	id    int
	types map[Type]bool
	ch    chan Event
}

// Bus is an in-process publish/subscribe fan-out for domain events.
//
// Publishing never blocks: each subscriber has a buffered channel, and an
// event is dropped (with a warning) for any subscriber whose buffer is
// full. Consumers that need durability must drain promptly.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	buffer int
	logger Logger
}

// NewBus creates an event bus. Buffer is the per-subscriber channel depth;
// values below 1 default to 16.
func NewBus(buffer int, logger Logger) *Bus {
	if buffer < 1 {
		buffer = 16
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a consumer for the given event types (all types when
// none are given). The returned cancel function removes the subscription
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscriber{
		ch: make(chan Event, b.buffer),
	}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber without
// blocking. Slow subscribers lose events rather than stalling the
// publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"type", event.Type,
				"device_id", event.DeviceID,
				"subscriber", sub.id)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscription and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
