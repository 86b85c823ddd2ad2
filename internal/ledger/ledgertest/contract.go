// Package ledgertest holds the contract suite every ledger backend must
// pass. Both the memory and sqlite stores run these same tests.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dlai-sd/waooaw-gateway/internal/ledger"
)

// Run executes the contract suite against a fresh store per subtest.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	window := time.Hour
	ctx := context.Background()

	t.Run("InvalidArguments", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.IncrementWithLimit(ctx, "k", 0, window, now, 1); !errors.Is(err, ledger.ErrInvalidArgument) {
			t.Errorf("limit=0: err = %v, want ErrInvalidArgument", err)
		}
		if _, err := s.IncrementWithLimit(ctx, "k", 10, window, now, 0); !errors.Is(err, ledger.ErrInvalidArgument) {
			t.Errorf("amount=0: err = %v, want ErrInvalidArgument", err)
		}
		if _, err := s.AddSpendWithLimit(ctx, "k", -1, 0, window, now); !errors.Is(err, ledger.ErrInvalidArgument) {
			t.Errorf("budget=-1: err = %v, want ErrInvalidArgument", err)
		}
		if _, err := s.AddSpendWithLimit(ctx, "k", 10, -0.5, window, now); !errors.Is(err, ledger.ErrInvalidArgument) {
			t.Errorf("spend=-0.5: err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("IncrementWithinLimit", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		res, err := s.IncrementWithLimit(ctx, "k", 3, window, now, 1)
		if err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}
		if !res.Allowed || res.Value != 1 {
			t.Errorf("first increment = %+v, want allowed value 1", res)
		}
		if !res.ResetsAt.Equal(now.Add(window)) {
			t.Errorf("ResetsAt = %v, want %v", res.ResetsAt, now.Add(window))
		}
	})

	t.Run("BlockedCallLeavesValueUnchanged", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := 0; i < 3; i++ {
			if _, err := s.IncrementWithLimit(ctx, "k", 3, window, now, 1); err != nil {
				t.Fatalf("IncrementWithLimit() error = %v", err)
			}
		}

		// Would exceed: must report the stored value, not a clamped partial.
		res, err := s.IncrementWithLimit(ctx, "k", 3, window, now.Add(time.Minute), 2)
		if err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}
		if res.Allowed {
			t.Fatal("increment past the limit must be blocked")
		}
		if res.Value != 3 {
			t.Errorf("blocked value = %d, want unchanged 3", res.Value)
		}
		if !res.ResetsAt.Equal(now.Add(window)) {
			t.Errorf("blocked ResetsAt = %v, want current window end %v", res.ResetsAt, now.Add(window))
		}
	})

	t.Run("BlockedCallIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.IncrementWithLimit(ctx, "k", 1, window, now, 1); err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}

		for i := 0; i < 5; i++ {
			res, err := s.IncrementWithLimit(ctx, "k", 1, window, now, 1)
			if err != nil {
				t.Fatalf("IncrementWithLimit() error = %v", err)
			}
			if res.Allowed || res.Value != 1 {
				t.Fatalf("retry %d = %+v, want blocked with value 1", i, res)
			}
		}
	})

	t.Run("WindowResetsAtExactBoundary", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.IncrementWithLimit(ctx, "k", 2, window, now, 2); err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}

		// A call exactly at the window end starts a fresh window.
		at := now.Add(window)
		res, err := s.IncrementWithLimit(ctx, "k", 2, window, at, 1)
		if err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}
		if !res.Allowed || res.Value != 1 {
			t.Errorf("call at window end = %+v, want fresh window value 1", res)
		}
		if !res.ResetsAt.Equal(at.Add(window)) {
			t.Errorf("ResetsAt = %v, want %v", res.ResetsAt, at.Add(window))
		}
	})

	t.Run("SpendWithinBudget", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		res, err := s.AddSpendWithLimit(ctx, "k", 10.0, 6.0, window, now)
		if err != nil {
			t.Fatalf("AddSpendWithLimit() error = %v", err)
		}
		if !res.Allowed || res.Total != 6.0 {
			t.Errorf("spend = %+v, want allowed total 6.0", res)
		}
	})

	t.Run("SpendBlockedLeavesTotalUnchanged", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.AddSpendWithLimit(ctx, "k", 10.0, 6.0, window, now); err != nil {
			t.Fatalf("AddSpendWithLimit() error = %v", err)
		}

		res, err := s.AddSpendWithLimit(ctx, "k", 10.0, 8.0, window, now)
		if err != nil {
			t.Fatalf("AddSpendWithLimit() error = %v", err)
		}
		if res.Allowed {
			t.Fatal("spend past the budget must be blocked")
		}
		if res.Total != 6.0 {
			t.Errorf("blocked total = %v, want unchanged 6.0", res.Total)
		}
	})

	t.Run("ZeroSpendAllowedAtFullBudget", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.AddSpendWithLimit(ctx, "k", 5.0, 5.0, window, now); err != nil {
			t.Fatalf("AddSpendWithLimit() error = %v", err)
		}

		res, err := s.AddSpendWithLimit(ctx, "k", 5.0, 0, window, now)
		if err != nil {
			t.Fatalf("AddSpendWithLimit() error = %v", err)
		}
		if !res.Allowed {
			t.Error("zero spend must be admitted even at a full budget")
		}
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		if _, err := s.IncrementWithLimit(ctx, "a", 1, window, now, 1); err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}
		res, err := s.IncrementWithLimit(ctx, "b", 1, window, now, 1)
		if err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}
		if !res.Allowed {
			t.Error("exhausting one key must not affect another")
		}
	})

	t.Run("ConcurrentIncrementsNeverExceedLimit", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		const (
			n     = 50
			limit = 10
		)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := s.IncrementWithLimit(ctx, "k", limit, window, now, 1)
				if err != nil {
					t.Errorf("IncrementWithLimit() error = %v", err)
					return
				}
				if res.Value > limit {
					t.Errorf("value %d exceeds limit %d", res.Value, limit)
				}
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if allowed != limit {
			t.Errorf("allowed calls = %d, want %d", allowed, limit)
		}

		res, err := s.IncrementWithLimit(ctx, "k", limit, window, now, 1)
		if err != nil {
			t.Fatalf("IncrementWithLimit() error = %v", err)
		}
		if res.Allowed || res.Value != limit {
			t.Errorf("final state = %+v, want blocked at value %d", res, limit)
		}
	})
}
