package bus

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus used for tests and single-binary
// deployments that don't need a shared Redis instance. Each subscriber
// gets its own buffered channel; publishing never blocks on a slow
// subscriber — once the buffer is full, the oldest message is dropped to
// make room for the new one.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	topic string
	ch    chan Message
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]*memorySub),
	}
}

// Publish fans the payload out to every subscription whose topic pattern
// matches. Subscriptions on the same pattern are served in registration
// order; the order across different patterns is not defined. Subscribers
// registered after this call do not see it.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	msg := Message{Topic: topic, Payload: payload}
	for pattern, subs := range b.subs {
		if !topicMatches(pattern, topic) {
			continue
		}
		for _, s := range subs {
			select {
			case s.ch <- msg:
			default:
				// Buffer full: drop the oldest to admit the newest, so a
				// stalled subscriber degrades to "latest wins" rather than
				// wedging the publisher.
				select {
				case <-s.ch:
				default:
				}
				select {
				case s.ch <- msg:
				default:
				}
			}
		}
	}
	return nil
}

// Subscribe registers a new cursor over topic (or its wildcard pattern).
// Only messages published after this call are delivered.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &memorySub{topic: topic, ch: make(chan Message, subscriberBufferSize)}
	b.subs[topic] = append(b.subs[topic], sub)

	closer := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}

	return &Subscription{
		C:      sub.ch,
		closed: make(chan struct{}),
		closer: closer,
	}, nil
}

// Ping succeeds until the bus is closed and errors afterwards: an
// in-process bus has no external connectivity to check.
func (b *MemoryBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("memory bus closed")
	}
	return nil
}

// Close drains all subscriber channels and stops accepting publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*memorySub)
	return nil
}
