package events

import (
	"sync"
	"time"

	"github.com/SoheylM/agentic-eng-design/internal/domain"
)

type Kind string

const (
	KindStep       Kind = "step"
	KindRetry      Kind = "retry"
	KindGraph      Kind = "graph"
	KindGeneration Kind = "generation"
	KindOutcome    Kind = "outcome"
)

// Event is one progress notification from a running session. The engine
// publishes these for observers (CLI progress, the monitor UI); dropping
// one never affects the session itself.
type Event struct {
	SessionID string
	Kind      Kind
	Agent     domain.AgentID
	Detail    string
	Version   int
	At        time.Time
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe returns a receive channel and a cancel function. The channel
// is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish fans the event out to every subscriber. Slow subscribers with a
// full buffer miss the event rather than blocking the publisher.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
