/*
Package bus is a process-local, per-user publish/subscribe channel for
pushing reconciliation outcomes to live client connections.

Best-effort by design: events are not durable, a slow subscriber drops
events instead of blocking a worker pass, and cancelling a
subscription tears down only that subscription - never an in-flight
pass. Clients that need the authoritative state re-read the ledger.
*/
package bus

import (
	"sync"
	"time"
)

// Event is one outcome pushed to subscribers of a user.
type Event struct {
	Type    string         `json:"type"` // e.g. "receipt.resolved", "withdrawal.paid"
	UserID  string         `json:"userId"`
	OrderID string         `json:"orderId,omitempty"`
	TaskID  string         `json:"taskId,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

const subscriberBuffer = 16

// Bus fans events out to per-user subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for one user's events. The returned
// cancel func is idempotent and closes the channel.
func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to the user's live subscribers. Never blocks:
// a full subscriber buffer drops the event for that subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the live subscriber count for a user.
func (b *Bus) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
