package metering

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dlai-sd/waooaw-gateway/internal/events"
	"github.com/dlai-sd/waooaw-gateway/internal/ledger"
)

// Request describes one metered operation to admit.
type Request struct {
	CorrelationID    string
	AgentID          string
	CustomerID       string
	PlanID           string
	Purpose          string
	TrialMode        bool
	EstimatedCostUSD float64
	TokensIn         int64
	TokensOut        int64
}

// Enforcer composes the ledger into trial and budget admission checks.
// Construct once at process start and share; it holds no mutable state of
// its own.
type Enforcer struct {
	trial  TrialLimits
	plans  PlanCatalog
	store  ledger.Store
	sink   events.Sink
	logger *slog.Logger
}

// NewEnforcer wires the enforcer to its ledger and event sink.
func NewEnforcer(trial TrialLimits, plans PlanCatalog, store ledger.Store, sink events.Sink, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{trial: trial, plans: plans, store: store, sink: sink, logger: logger}
}

// Check runs up to three independent admission checks in order: trial daily
// task cap, trial daily token cap, monthly plan budget. The first rejection
// returns a *LimitError and consumes nothing; each passed check appends a
// usage event. Ledger failures reject the request (fail-closed: never grant
// unmetered access because bookkeeping broke).
func (e *Enforcer) Check(ctx context.Context, req Request, now time.Time) error {
	if req.TrialMode {
		if err := e.checkTrialTasks(ctx, req, now); err != nil {
			return err
		}
		if err := e.checkTrialTokens(ctx, req, now); err != nil {
			return err
		}
	}
	return e.checkBudget(ctx, req, now)
}

func (e *Enforcer) checkTrialTasks(ctx context.Context, req Request, now time.Time) error {
	window := nextMidnightUTC(now).Sub(now)
	res, err := e.store.IncrementWithLimit(ctx, trialTaskKey(req.CustomerID, now), e.trial.DailyTasks, window, now, 1)
	if err != nil {
		return fmt.Errorf("trial task ledger: %w", err)
	}
	if !res.Allowed {
		return &LimitError{Reason: ReasonTrialDailyCap, ResetsAt: res.ResetsAt, CorrelationID: req.CorrelationID}
	}
	e.record(ctx, req, events.KindTrialTask, 1, now)
	return nil
}

func (e *Enforcer) checkTrialTokens(ctx context.Context, req Request, now time.Time) error {
	tokens := req.TokensIn + req.TokensOut
	if e.trial.DailyTokens <= 0 || tokens <= 0 {
		return nil
	}
	window := nextMidnightUTC(now).Sub(now)
	res, err := e.store.IncrementWithLimit(ctx, trialTokenKey(req.CustomerID, now), e.trial.DailyTokens, window, now, tokens)
	if err != nil {
		return fmt.Errorf("trial token ledger: %w", err)
	}
	if !res.Allowed {
		return &LimitError{Reason: ReasonTrialDailyTokenCap, ResetsAt: res.ResetsAt, CorrelationID: req.CorrelationID}
	}
	e.record(ctx, req, events.KindTrialTokens, float64(tokens), now)
	return nil
}

func (e *Enforcer) checkBudget(ctx context.Context, req Request, now time.Time) error {
	budget, ok := e.plans[req.PlanID]
	if !ok {
		return nil
	}
	window := nextMonthUTC(now).Sub(now)
	res, err := e.store.AddSpendWithLimit(ctx, budgetKey(req.CustomerID, req.PlanID, now), budget, req.EstimatedCostUSD, window, now)
	if err != nil {
		return fmt.Errorf("budget ledger: %w", err)
	}
	if !res.Allowed {
		return &LimitError{Reason: ReasonMonthlyBudget, ResetsAt: res.ResetsAt, CorrelationID: req.CorrelationID}
	}
	e.record(ctx, req, events.KindPlanSpend, req.EstimatedCostUSD, now)
	return nil
}

// record appends a usage event for an admitted check. Audit failures are
// logged, not propagated: the admission already happened and the event
// stream is analytics, not the ledger of record.
func (e *Enforcer) record(ctx context.Context, req Request, kind string, amount float64, now time.Time) {
	if e.sink == nil {
		return
	}
	ev := &events.UsageEvent{
		ID:            uuid.New().String(),
		CorrelationID: req.CorrelationID,
		AgentID:       req.AgentID,
		CustomerID:    req.CustomerID,
		PlanID:        req.PlanID,
		Purpose:       req.Purpose,
		Kind:          kind,
		Amount:        amount,
		CreatedAt:     now.UTC(),
	}
	if err := e.sink.Append(ctx, ev); err != nil {
		e.logger.Error("failed to append usage event",
			slog.String("correlation_id", req.CorrelationID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
