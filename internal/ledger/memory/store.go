// Package memory provides the process-local ledger backend. It is not
// crash-durable; use the sqlite backend when entries must survive restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dlai-sd/waooaw-gateway/internal/ledger"
)

type entry struct {
	count     int64
	spend     float64
	windowEnd time.Time
}

// Store is an in-memory implementation of ledger.Store.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a new in-memory ledger.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) IncrementWithLimit(ctx context.Context, key string, limit int64, window time.Duration, now time.Time, amount int64) (ledger.CountResult, error) {
	if limit <= 0 {
		return ledger.CountResult{}, fmt.Errorf("%w: limit must be positive, got %d", ledger.ErrInvalidArgument, limit)
	}
	if amount <= 0 {
		return ledger.CountResult{}, fmt.Errorf("%w: amount must be positive, got %d", ledger.ErrInvalidArgument, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.window(key, window, now)
	if e.count+amount > limit {
		return ledger.CountResult{Allowed: false, Value: e.count, ResetsAt: e.windowEnd}, nil
	}
	e.count += amount
	return ledger.CountResult{Allowed: true, Value: e.count, ResetsAt: e.windowEnd}, nil
}

func (s *Store) AddSpendWithLimit(ctx context.Context, key string, budget, spend float64, window time.Duration, now time.Time) (ledger.SpendResult, error) {
	if budget < 0 {
		return ledger.SpendResult{}, fmt.Errorf("%w: budget must not be negative, got %v", ledger.ErrInvalidArgument, budget)
	}
	if spend < 0 {
		return ledger.SpendResult{}, fmt.Errorf("%w: spend must not be negative, got %v", ledger.ErrInvalidArgument, spend)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.window(key, window, now)
	if e.spend+spend > budget {
		return ledger.SpendResult{Allowed: false, Total: e.spend, ResetsAt: e.windowEnd}, nil
	}
	e.spend += spend
	return ledger.SpendResult{Allowed: true, Total: e.spend, ResetsAt: e.windowEnd}, nil
}

// window returns the live entry for key, reinitializing it when missing or
// when now has reached the entry's window end. Callers must hold s.mu.
func (s *Store) window(key string, window time.Duration, now time.Time) *entry {
	e, ok := s.entries[key]
	if !ok || !now.Before(e.windowEnd) {
		e = &entry{windowEnd: now.Add(window)}
		s.entries[key] = e
	}
	return e
}

func (s *Store) Close() error {
	return nil
}
