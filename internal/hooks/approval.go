package hooks

import (
	"context"
	"strings"
)

// ReasonApprovalRequired is the deny reason when a gated action carries no
// approval token.
const ReasonApprovalRequired = "approval_required"

// DefaultApprovalActions are the externally visible actions gated by default.
func DefaultApprovalActions() []string {
	return []string{"publish", "send", "post"}
}

// TradingApprovalActions extends the defaults with order placement actions
// used by trading configurations.
func TradingApprovalActions() []string {
	return append(DefaultApprovalActions(), "place_order", "close_position")
}

// ApprovalRequired denies side-effecting actions that lack an approval token.
// It activates only at pre_tool_use and only for the configured action names.
// The token itself is opaque: the hook checks presence, not validity.
type ApprovalRequired struct {
	actions map[string]struct{}
}

// NewApprovalRequired builds the hook for the given action names. With no
// arguments the default action set is used.
func NewApprovalRequired(actions ...string) *ApprovalRequired {
	if len(actions) == 0 {
		actions = DefaultApprovalActions()
	}
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[strings.ToLower(a)] = struct{}{}
	}
	return &ApprovalRequired{actions: set}
}

// Name returns the hook identifier.
func (h *ApprovalRequired) Name() string { return "approval_required" }

// Handle abstains unless the event is a pre_tool_use of a gated action.
func (h *ApprovalRequired) Handle(_ context.Context, ev *Event) *Decision {
	if ev.Stage != StagePreToolUse {
		return nil
	}
	action := strings.ToLower(ev.Action)
	if _, gated := h.actions[action]; !gated {
		return nil
	}

	if id, ok := ev.Payload["approval_id"].(string); ok && id != "" {
		return &Decision{
			Allowed: true,
			Reason:  "approval_present",
			Details: map[string]any{"action": action},
		}
	}

	return &Decision{
		Allowed: false,
		Reason:  ReasonApprovalRequired,
		Details: map[string]any{
			"action":   action,
			"agent_id": ev.AgentID,
		},
	}
}

var _ Hook = (*ApprovalRequired)(nil)
