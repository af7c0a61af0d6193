// Package bus implements the in-process publish/subscribe fabric every
// component communicates through. Delivery is within-process, best-effort,
// at-most-once per handler per publish; a crash loses in-flight events.
package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one published message.
type Event struct {
	Topic   string
	Payload map[string]any
	At      time.Time
}

// Handler processes one event. Handlers for a topic run concurrently within
// a single publication; a panicking handler is isolated and logged.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus routes events by exact-string topic match. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	logger *slog.Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: slog.Default().With("component", "bus"),
	}
}

// Subscribe registers a handler for a topic and returns the subscription id.
func (b *Bus) Subscribe(topic string, h Handler) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription by id. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				if len(b.subs[topic]) == 0 {
					delete(b.subs, topic)
				}
				return
			}
		}
	}
}

// Publish delivers payload to every handler currently registered for topic,
// each in its own goroutine, and waits for all of them to return. It returns
// the number of handlers that completed without panicking. Because Publish
// gathers before returning, a subscriber observes publications of one topic
// in publish order.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]any) int {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return 0
	}

	ev := Event{Topic: topic, Payload: payload, At: time.Now()}

	var wg sync.WaitGroup
	var completedMu sync.Mutex
	completed := 0

	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked",
						"topic", topic,
						"subscription_id", s.id,
						"panic", r,
						"stack", string(debug.Stack()))
					return
				}
				completedMu.Lock()
				completed++
				completedMu.Unlock()
			}()
			s.handler(ctx, ev)
		}(s)
	}
	wg.Wait()

	return completed
}

// SubscriberCount returns how many handlers are registered for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
