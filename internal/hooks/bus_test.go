package hooks

import (
	"context"
	"testing"
)

// stubHook is a test helper that records calls and returns a fixed decision.
type stubHook struct {
	name     string
	decision *Decision
	calls    int
}

func (s *stubHook) Name() string { return s.name }

func (s *stubHook) Handle(ctx context.Context, ev *Event) *Decision {
	s.calls++
	return s.decision
}

func TestBus_Emit_ImplicitAllow(t *testing.T) {
	bus := NewBus()

	ev := NewEvent(StagePreToolUse, "corr-1")
	d := bus.Emit(context.Background(), ev)

	if !d.Allowed {
		t.Fatal("expected implicit allow with empty chain")
	}
	if d.DecisionID == "" {
		t.Error("implicit allow must carry a decision ID")
	}
	if d.Reason != "no_objection" {
		t.Errorf("reason = %q, want no_objection", d.Reason)
	}
}

func TestBus_Emit_FirstDenyWins(t *testing.T) {
	abstain := &stubHook{name: "h1"}
	deny := &stubHook{name: "h2", decision: &Decision{Allowed: false, Reason: "blocked"}}
	never := &stubHook{name: "h3", decision: &Decision{Allowed: true}}

	bus := NewBus()
	bus.Register(StagePreToolUse, abstain)
	bus.Register(StagePreToolUse, deny)
	bus.Register(StagePreToolUse, never)

	d := bus.Emit(context.Background(), NewEvent(StagePreToolUse, "corr-1"))

	if d.Allowed {
		t.Fatal("expected deny")
	}
	if d.Reason != "blocked" {
		t.Errorf("reason = %q, want blocked", d.Reason)
	}
	if abstain.calls != 1 {
		t.Errorf("abstaining hook calls = %d, want 1", abstain.calls)
	}
	if never.calls != 0 {
		t.Errorf("hook after deny calls = %d, want 0", never.calls)
	}
}

func TestBus_Emit_BackfillsDecisionID(t *testing.T) {
	deny := &stubHook{name: "deny", decision: &Decision{Allowed: false, Reason: "blocked"}}

	bus := NewBus()
	bus.Register(StagePreSkill, deny)

	d := bus.Emit(context.Background(), NewEvent(StagePreSkill, "corr-1"))

	if d.DecisionID == "" {
		t.Error("deny without decision ID must be backfilled by the bus")
	}
}

func TestBus_Emit_KeepsHookDecisionID(t *testing.T) {
	deny := &stubHook{name: "deny", decision: &Decision{Allowed: false, Reason: "blocked", DecisionID: "DEC-7"}}

	bus := NewBus()
	bus.Register(StagePreSkill, deny)

	d := bus.Emit(context.Background(), NewEvent(StagePreSkill, "corr-1"))

	if d.DecisionID != "DEC-7" {
		t.Errorf("decision ID = %q, want DEC-7", d.DecisionID)
	}
}

func TestBus_Emit_StageIsolation(t *testing.T) {
	deny := &stubHook{name: "deny", decision: &Decision{Allowed: false, Reason: "blocked"}}

	bus := NewBus()
	bus.Register(StagePostSkill, deny)

	d := bus.Emit(context.Background(), NewEvent(StagePreToolUse, "corr-1"))

	if !d.Allowed {
		t.Fatal("hook registered for another stage must not fire")
	}
	if deny.calls != 0 {
		t.Errorf("deny hook calls = %d, want 0", deny.calls)
	}
}
