package events

import (
	"context"
	"sync"
)

// MemorySink buffers usage events in memory. It backs single-instance
// deployments and tests; the sqlite ledger store is the durable sink.
type MemorySink struct {
	mu     sync.Mutex
	events []UsageEvent
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

var _ Sink = (*MemorySink)(nil)

func (s *MemorySink) Append(ctx context.Context, ev *UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Close() error {
	return nil
}
