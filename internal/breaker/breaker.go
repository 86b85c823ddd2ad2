// Package breaker guards a single upstream target with a failure-sensing
// circuit breaker. It opens after a configured number of failures within a
// trailing window, rejects calls immediately while open, and recovers
// through a single half-open probe once the window elapses.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the circuit is open and the guarded call was
// never invoked. Callers should surface it as transient unavailability and
// retry with backoff.
var ErrOpen = errors.New("breaker: circuit open")

// Breaker wraps gobreaker with explicit reset. Created once per upstream
// target at process start; state is never persisted across restarts.
type Breaker struct {
	mu       sync.Mutex
	settings gobreaker.Settings
	cb       *gobreaker.CircuitBreaker
}

// New builds a breaker that opens after threshold failures within window.
// While open it sheds load for the same window, then admits one probe call;
// a successful probe closes the circuit again.
func New(name string, threshold uint32, window time.Duration, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,      // single half-open probe
		Interval:    window, // failure counts age out with the window while closed
		Timeout:     window, // open -> half-open once the window elapses
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= threshold
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("target", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
	}
	return &Breaker{settings: settings, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn unless the circuit is open. The outcome of fn arms or relaxes
// the breaker; an open circuit returns ErrOpen without invoking fn at all.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.current().Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	return b.current().State() == gobreaker.StateOpen
}

// State returns the current state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.current().State().String()
}

// Reset discards all failure bookkeeping and closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = gobreaker.NewCircuitBreaker(b.settings)
}

func (b *Breaker) current() *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}
