package event

import (
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Replay buffer limits. Events older than bufferTTL are dropped, and each
// session keeps at most bufferCap events.
const (
	bufferTTL = 30 * time.Second
	bufferCap = 100
)

// Handler is a function that handles an event.
type Handler func(ServerEvent)

// subscription represents a registered event handler.
//
// The per-subscription mutex serializes delivery to one handler: a new
// subscriber holds it while buffered events are replayed, so a concurrent
// Publish that already registered the handler in its dispatch set blocks
// until replay finishes. Combined with taking the dispatch snapshot under
// the bus mutex (the same mutex that orders buffer appends against handler
// registration), every event reaches the handler exactly once, in order.
type subscription struct {
	id      uint64
	key     string // session id or "*"
	mu      sync.Mutex
	handler Handler
}

// Bus is a synchronous pub-sub event bus keyed by session id, with a
// per-session replay buffer for late subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]*subscription // session id (or "*") -> subscriptions
	buffers map[string][]ServerEvent   // session id -> recent events
	nextID  atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]*subscription),
		buffers: make(map[string][]ServerEvent),
	}
}

// Publish buffers the event (unless it is a ping) and dispatches it to every
// subscription registered for the event's session id or for "*".
// Handlers are called synchronously; a panicking handler is recovered and
// logged without preventing delivery to the remaining handlers.
func (b *Bus) Publish(e ServerEvent) {
	b.mu.Lock()
	if e.Type != TypePing {
		b.buffers[e.SessionID] = trimBuffer(append(b.buffers[e.SessionID], e))
	}

	targets := make([]*subscription, 0, len(b.subs[e.SessionID])+len(b.subs["*"]))
	targets = append(targets, b.subs[e.SessionID]...)
	targets = append(targets, b.subs["*"]...)
	b.mu.Unlock()

	for _, sub := range targets {
		sub.mu.Lock()
		safeCall(sub.handler, e)
		sub.mu.Unlock()
	}
}

// Subscribe registers a handler for the given session id, or for all sessions
// when key is "*". When replay is true and key names a session, every
// buffered, non-expired event for that session is delivered to the handler
// before Subscribe returns, in original arrival order; events published
// concurrently are delivered afterwards, exactly once.
//
// The returned function removes the subscription.
func (b *Bus) Subscribe(key string, handler Handler, replay bool) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		key:     key,
		handler: handler,
	}

	b.mu.Lock()
	var backlog []ServerEvent
	if replay && key != "*" {
		b.buffers[key] = trimBuffer(b.buffers[key])
		if len(b.buffers[key]) == 0 {
			delete(b.buffers, key)
		} else {
			backlog = make([]ServerEvent, len(b.buffers[key]))
			copy(backlog, b.buffers[key])
		}
	}
	// Hold the subscription's own lock across registration and replay so a
	// concurrent Publish cannot deliver a live event before the backlog.
	sub.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	for _, e := range backlog {
		safeCall(sub.handler, e)
	}
	sub.mu.Unlock()

	return func() { b.unsubscribe(sub) }
}

// Buffered returns a copy of the current non-expired replay buffer for a
// session. Useful for diagnostics and tests.
func (b *Bus) Buffered(sessionID string) []ServerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffers[sessionID] = trimBuffer(b.buffers[sessionID])
	if len(b.buffers[sessionID]) == 0 {
		delete(b.buffers, sessionID)
		return nil
	}
	out := make([]ServerEvent, len(b.buffers[sessionID]))
	copy(out, b.buffers[sessionID])
	return out
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	return count
}

func (b *Bus) unsubscribe(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[target.key]
	for i, sub := range subs {
		if sub.id == target.id {
			b.subs[target.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[target.key]) == 0 {
		delete(b.subs, target.key)
	}
}

// trimBuffer drops expired events and caps the buffer at bufferCap,
// keeping the most recent entries. Returns nil for an empty result so the
// caller can delete the map entry.
func trimBuffer(events []ServerEvent) []ServerEvent {
	cutoff := time.Now().Add(-bufferTTL)
	start := 0
	for start < len(events) && events[start].Timestamp.Before(cutoff) {
		start++
	}
	events = events[start:]
	if len(events) > bufferCap {
		events = events[len(events)-bufferCap:]
	}
	if len(events) == 0 {
		return nil
	}
	return events
}

// safeCall invokes a handler and recovers from any panics. Panics are logged
// with stack traces so one misbehaving subscriber cannot block delivery.
func safeCall(handler Handler, e ServerEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for %s event (session %s): %v\n%s",
				e.Type, e.SessionID, r, debug.Stack())
		}
	}()
	handler(e)
}
