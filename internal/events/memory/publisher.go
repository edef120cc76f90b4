// Package memory provides an in-process event publisher for tests and
// single-binary deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one published message.
type Event struct {
	Topic   string
	Payload any
}

// Publisher records published events in memory.
type Publisher struct {
	mu     sync.Mutex
	nextID int
	events []Event
}

// New constructs an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
