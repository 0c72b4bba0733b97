// Package bus provides the topic-addressed message bus that connects
// the orchestrator and its workers.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/MagClaw/MagClaw/internal/message"
)

// DefaultBuffer is the per-topic queue depth.
const DefaultBuffer = 100

// Delivery is one item on a topic queue: either a broadcast envelope or
// a directed request to speak.
type Delivery struct {
	Env   *message.Envelope
	Speak bool
}

// Bus routes envelopes between a fixed set of participants. Each
// participant owns one topic; delivery within a topic is FIFO. No
// ordering is guaranteed across topics.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]chan Delivery
	sealed bool
	closed bool
}

// New creates an empty bus. Participants register before Seal.
func New() *Bus {
	return &Bus{topics: make(map[string]chan Delivery)}
}

// Register adds a participant topic and returns its receive queue.
// Registration fails once the participant set is sealed.
func (b *Bus) Register(topic string) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return nil, fmt.Errorf("bus is sealed, cannot register %q", topic)
	}
	if _, ok := b.topics[topic]; ok {
		return nil, fmt.Errorf("topic %q already registered", topic)
	}
	ch := make(chan Delivery, DefaultBuffer)
	b.topics[topic] = ch
	return ch, nil
}

// Seal fixes the participant set.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Topics returns the registered topic names.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	return out
}

// Has reports whether a topic is registered.
func (b *Bus) Has(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.topics[topic]
	return ok
}

// Broadcast delivers the envelope to every topic except the sender's
// own. Delivery errors propagate to the caller; there is no redelivery.
func (b *Bus) Broadcast(ctx context.Context, env message.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := make([]chan Delivery, 0, len(b.topics))
	for topic, ch := range b.topics {
		if topic == env.Source {
			continue
		}
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- Delivery{Env: &env}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RequestSpeak directs exactly one participant to produce a response.
func (b *Bus) RequestSpeak(ctx context.Context, topic string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	ch, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown topic %q", topic)
	}
	select {
	case ch <- Delivery{Speak: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the bus down. Further publishes fail; receive queues are
// closed so consumer loops drain and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.topics {
		close(ch)
	}
}
