package hooks

import (
	"context"

	"github.com/google/uuid"
)

// Bus holds an ordered hook chain per stage. Registration happens once at
// startup; Emit is read-only over the registered chains and is safe for
// concurrent callers.
type Bus struct {
	chains map[Stage][]Hook
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{chains: make(map[Stage][]Hook)}
}

// Register appends a hook to the stage's chain. Order of registration is
// evaluation order.
func (b *Bus) Register(stage Stage, h Hook) {
	b.chains[stage] = append(b.chains[stage], h)
}

// Emit runs the event through the chain registered for its stage and returns
// exactly one decision: the first non-abstaining hook's decision, or an
// implicit allow when every hook abstains. A deny always carries a decision
// ID so it can be traced, even when the hook itself omitted one.
func (b *Bus) Emit(ctx context.Context, ev *Event) Decision {
	for _, h := range b.chains[ev.Stage] {
		d := h.Handle(ctx, ev)
		if d == nil {
			continue
		}
		if !d.Allowed && d.DecisionID == "" {
			d.DecisionID = uuid.New().String()
		}
		return *d
	}
	return Decision{
		Allowed:    true,
		Reason:     "no_objection",
		DecisionID: uuid.New().String(),
	}
}
