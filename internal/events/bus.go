// Package events fans queue lifecycle notifications out to any number of
// subscribers without coupling the engine to its consumers.
//
// Subscribers attach and detach at any time and receive only events published
// after they attach; callers needing current state list the queue instead.
// Events for a single job are delivered in transition order. Slow subscribers
// drop events rather than stalling the engine, with drops counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"uplink/internal/queue"
)

// Type identifies a queue lifecycle event.
type Type string

const (
	TypeQueued       Type = "queued"
	TypeUploading    Type = "uploading"
	TypeProgress     Type = "progress"
	TypeCompleted    Type = "completed"
	TypeFailed       Type = "failed"
	TypeCancelled    Type = "cancelled"
	TypeRetried      Type = "retried"
	TypeQueueUpdated Type = "queue_updated"
	TypeStoreError   Type = "store_error"
)

// Event carries one lifecycle notification. Job is a detached copy; for
// queue-level events (queue_updated, store_error) it may be nil.
type Event struct {
	Type      Type
	OwnerID   string
	Job       *queue.Job
	Error     string
	Timestamp time.Time
}

// Bus is a typed broadcast channel for queue events.
type Bus struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan Event
	buffer  int
	dropped atomic.Uint64
}

// NewBus constructs a bus whose subscribers buffer up to bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: bufferSize,
	}
}

// Subscribe attaches a new subscriber. The returned cancel function detaches
// it and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if existing, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(existing)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber. Publishing never blocks: a
// subscriber whose buffer is full loses the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the count of events lost to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
