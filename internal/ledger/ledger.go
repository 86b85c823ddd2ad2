// Package ledger defines the windowed counter and spend store used for rate
// and budget enforcement. Entries are keyed by opaque strings chosen so that
// calendar alignment is encoded in the key itself (customer:2026-08-28 for
// daily caps, customer:plan:budget:2026-08 for monthly budgets).
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidArgument is returned when a limit, budget or amount precondition
// is violated.
var ErrInvalidArgument = errors.New("ledger: invalid argument")

// CountResult is the outcome of IncrementWithLimit. On a blocked call Value
// is the unchanged stored value; ResetsAt always reflects the current
// window's end.
type CountResult struct {
	Allowed  bool
	Value    int64
	ResetsAt time.Time
}

// SpendResult is the outcome of AddSpendWithLimit.
type SpendResult struct {
	Allowed  bool
	Total    float64
	ResetsAt time.Time
}

// Store is a windowed counter/spend ledger. Both operations are atomic: two
// concurrent calls for the same key never both succeed past a shared cap,
// and a blocked call leaves the stored value untouched.
type Store interface {
	// IncrementWithLimit applies an integer increment if it fits within
	// limit for the key's current window. A missing or expired entry (now at
	// or past its window end) is reinitialized to zero with a fresh window
	// of the given duration before the increment is applied.
	// Preconditions: limit > 0, amount > 0.
	IncrementWithLimit(ctx context.Context, key string, limit int64, window time.Duration, now time.Time, amount int64) (CountResult, error)

	// AddSpendWithLimit is IncrementWithLimit over floating-point spend.
	// Preconditions: budget >= 0, spend >= 0.
	AddSpendWithLimit(ctx context.Context, key string, budget, spend float64, window time.Duration, now time.Time) (SpendResult, error)

	Close() error
}
