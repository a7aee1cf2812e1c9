// Package eventbus provides the Bus interface and an in-memory implementation
// for document change notifications.
package eventbus

import (
	"sync"
	"time"
)

// Change is a snapshot of a document taken right after it was written.
type Change struct {
	Collection string
	ID         string
	Data       map[string]any
	Version    int64
	UpdatedAt  time.Time
}

// Key returns the topic a change is published under.
func (c *Change) Key() string { return Key(c.Collection, c.ID) }

// Key builds the topic for one document.
func Key(collection, id string) string { return collection + "/" + id }

// Bus provides pub/sub for document changes. Delivery is best effort: a
// Publish never waits on a subscriber, so a subscriber that falls behind
// misses changes and has to re-read the document to catch up.
type Bus interface {
	Subscribe(key string) chan *Change
	Unsubscribe(key string, ch chan *Change)
	Publish(key string, change *Change)
}

// SubscriberBuffer is how many undelivered changes a subscription holds
// before further changes for it are dropped.
const SubscriberBuffer = 64

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *Change
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *Change),
	}
}

// Subscribe creates a channel that receives changes for a key. The channel
// buffers SubscriberBuffer changes.
func (b *InMemoryBus) Subscribe(key string) chan *Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Change, SubscriberBuffer)
	b.subs[key] = append(b.subs[key], ch)
	return ch
}

// Unsubscribe removes a channel from the key's subscribers and closes it.
func (b *InMemoryBus) Unsubscribe(key string, ch chan *Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[key]
	for i, s := range subs {
		if s == ch {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			close(ch)
			return
		}
	}
}

// Publish sends a change to all subscribers for a key. A subscriber whose
// buffer is full does not get this change.
func (b *InMemoryBus) Publish(key string, change *Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[key] {
		select {
		case ch <- change:
		default:
			// Drop the change if the subscriber is too slow.
		}
	}
}
