// Package events provides the real-time event boundary: an in-process
// fan-out bus with independent bounded subscriber queues. Events are
// forward-only; there is no replay across restarts, so a subscriber that
// overflows is flagged as needing a full state resync out-of-band.
package events

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// Event is one ordered state-change notification.
type Event struct {
	Type    string      `json:"event_type"`
	Payload interface{} `json:"payload"`
}

// Well-known event types published by the occupancy engine and the
// relay manager.
const (
	TypeSpotUpdate  = "spot_update"
	TypeSpaceStats  = "space_stats"
	TypeBulkUpdate  = "bulk_update"
	TypeRelayState  = "relay_state"
	TypeSpotCreated = "spot_created"
)

// DefaultQueueSize bounds each subscriber queue.
const DefaultQueueSize = 64

type subscriber struct {
	ch          chan Event
	needsResync bool
}

// Bus fans events out to subscribers. Publishing never blocks: a full
// subscriber queue drops its oldest event to make room and the
// subscriber is marked as needing resync, so one slow consumer cannot
// stall the others.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	closed  bool
	queueSz int
}

// NewBus creates a bus whose subscribers get queues of size queueSize
// (DefaultQueueSize if <= 0).
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:    make(map[string]*subscriber),
		queueSz: queueSize,
	}
}

// randomID generates a random subscriber ID (8 byte random hex value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber and returns its ID and channel.
// The channel is closed on Unsubscribe or Close.
func (b *Bus) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := randomID()
	s := &subscriber{ch: make(chan Event, b.queueSz)}
	b.subs[id] = s
	return id, s.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber in order. A full queue drops
// its oldest entry and flags the subscriber for resync.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			// Queue full: evict the oldest event so ordering of the
			// remainder is preserved, then deliver the new one.
			select {
			case <-s.ch:
			default:
			}
			s.needsResync = true
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

// NeedsResync reports whether the subscriber overflowed since the last
// ClearResync. Unknown IDs report false.
func (b *Bus) NeedsResync(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		return s.needsResync
	}
	return false
}

// ClearResync acknowledges that the subscriber has resynced its state.
func (b *Bus) ClearResync(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		s.needsResync = false
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
