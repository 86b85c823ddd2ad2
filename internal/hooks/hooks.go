// Package hooks provides the interception chain consulted before and after
// skill execution. Hooks vote on events; the first non-abstaining decision
// wins, which keeps the chain auditable by reading it in registration order.
package hooks

import (
	"context"
	"time"
)

// Stage identifies an interception point in the skill execution lifecycle.
type Stage string

const (
	StageSessionStart Stage = "session_start"
	StagePreSkill     Stage = "pre_skill"
	StagePreToolUse   Stage = "pre_tool_use"
	StagePostToolUse  Stage = "post_tool_use"
	StagePostSkill    Stage = "post_skill"
	StageSessionEnd   Stage = "session_end"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageSessionStart,
	StagePreSkill,
	StagePreToolUse,
	StagePostToolUse,
	StagePostSkill,
	StageSessionEnd,
}

// Event describes a single interception point. It is constructed by the
// caller emitting it and is not mutated after construction.
type Event struct {
	Stage         Stage
	CorrelationID string
	AgentID       string
	CustomerID    string
	Purpose       string
	Action        string
	Payload       map[string]any
	CreatedAt     time.Time
}

// NewEvent constructs an event with an empty payload and the current time.
func NewEvent(stage Stage, correlationID string) *Event {
	return &Event{
		Stage:         stage,
		CorrelationID: correlationID,
		Payload:       map[string]any{},
		CreatedAt:     time.Now().UTC(),
	}
}

// Decision is the outcome of emitting an event through a stage's chain.
type Decision struct {
	Allowed    bool           `json:"allowed"`
	Reason     string         `json:"reason"`
	DecisionID string         `json:"decision_id"`
	Details    map[string]any `json:"details,omitempty"`
}

// Hook votes on events. Handle returns nil to abstain, letting later hooks
// in the chain decide.
type Hook interface {
	// Name returns the unique identifier for this hook.
	Name() string
	// Handle inspects the event and returns a decision, or nil to abstain.
	Handle(ctx context.Context, ev *Event) *Decision
}
