// Package events defines the usage event audit trail. Every admitted metered
// operation appends one event per passed check; rejected operations append
// nothing.
package events

import (
	"context"
	"time"
)

// Event kinds, one per metering check.
const (
	KindTrialTask   = "trial_task"
	KindTrialTokens = "trial_tokens"
	KindPlanSpend   = "plan_spend"
)

// UsageEvent records one admitted unit of metered usage.
type UsageEvent struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	AgentID       string    `json:"agent_id"`
	CustomerID    string    `json:"customer_id"`
	PlanID        string    `json:"plan_id,omitempty"`
	Purpose       string    `json:"purpose,omitempty"`
	Kind          string    `json:"kind"`
	Amount        float64   `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Sink receives usage events for audit and analytics.
type Sink interface {
	Append(ctx context.Context, ev *UsageEvent) error
	Close() error
}
