// Package memory records published payloads in process so tests can inspect
// page summaries and lifecycle messages.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher keeps published payloads, optionally bounded to the most recent.
type Publisher struct {
	mu    sync.RWMutex
	limit int
	total int
	// ring holds the retained messages; once a bounded ring is full, head
	// indexes the oldest entry.
	ring []Message
	head int
}

// Message is one publish call.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// New returns a Publisher retaining at most limit messages; limit <= 0 keeps
// everything.
func New(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("memory publish: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	msg := Message{ID: fmt.Sprintf("memory-%d", p.total), Topic: topic, Payload: payload}
	if p.limit > 0 && len(p.ring) == p.limit {
		p.ring[p.head] = msg
		p.head = (p.head + 1) % p.limit
		return msg.ID, nil
	}
	p.ring = append(p.ring, msg)
	return msg.ID, nil
}

// Messages returns a copy of the retained messages, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, 0, len(p.ring))
	out = append(out, p.ring[p.head:]...)
	return append(out, p.ring[:p.head]...)
}

// Total returns how many messages were published, retained or not.
func (p *Publisher) Total() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}
