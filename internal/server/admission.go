package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dlai-sd/waooaw-gateway/internal/hooks"
	"github.com/dlai-sd/waooaw-gateway/internal/metering"
	"github.com/dlai-sd/waooaw-gateway/internal/metrics"
)

// admissionRequest is the JSON body skill runtimes post before running a
// metered or side-effecting operation.
type admissionRequest struct {
	AgentID          string         `json:"agent_id"`
	CustomerID       string         `json:"customer_id"`
	PlanID           string         `json:"plan_id"`
	Purpose          string         `json:"purpose"`
	TrialMode        bool           `json:"trial_mode"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	TokensIn         int64          `json:"tokens_in"`
	TokensOut        int64          `json:"tokens_out"`
	Stage            string         `json:"stage"`
	Action           string         `json:"action"`
	Payload          map[string]any `json:"payload"`
}

type admissionResponse struct {
	Allowed       bool   `json:"allowed"`
	DecisionID    string `json:"decision_id"`
	CorrelationID string `json:"correlation_id"`
}

// Admission gates skill execution: it emits a hook event for the declared
// stage/action, then runs the metering checks. Either gate can reject.
type Admission struct {
	bus      *hooks.Bus
	enforcer *metering.Enforcer
	metrics  *metrics.Set
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdmission builds the admission handler. nowFn is the clock, injectable
// for tests; nil means time.Now.
func NewAdmission(bus *hooks.Bus, enforcer *metering.Enforcer, m *metrics.Set, logger *slog.Logger, nowFn func() time.Time) *Admission {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Admission{bus: bus, enforcer: enforcer, metrics: m, logger: logger, now: nowFn}
}

func (a *Admission) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	var req admissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Reason:        "invalid_request",
			Title:         "admission request body is not valid JSON",
			CorrelationID: correlationID,
		})
		return
	}

	decisionID := ""
	if req.Stage != "" {
		ev := &hooks.Event{
			Stage:         hooks.Stage(req.Stage),
			CorrelationID: correlationID,
			AgentID:       req.AgentID,
			CustomerID:    req.CustomerID,
			Purpose:       req.Purpose,
			Action:        req.Action,
			Payload:       req.Payload,
			CreatedAt:     a.now().UTC(),
		}
		if ev.Payload == nil {
			ev.Payload = map[string]any{}
		}

		decision := a.bus.Emit(ctx, ev)
		decisionID = decision.DecisionID
		if !decision.Allowed {
			a.metrics.Rejections.WithLabelValues(decision.Reason).Inc()
			WriteError(w, r, a.logger, NewPolicyError(decision, correlationID))
			return
		}
	}

	if err := a.enforcer.Check(ctx, metering.Request{
		CorrelationID:    correlationID,
		AgentID:          req.AgentID,
		CustomerID:       req.CustomerID,
		PlanID:           req.PlanID,
		Purpose:          req.Purpose,
		TrialMode:        req.TrialMode,
		EstimatedCostUSD: req.EstimatedCostUSD,
		TokensIn:         req.TokensIn,
		TokensOut:        req.TokensOut,
	}, a.now()); err != nil {
		var lim *metering.LimitError
		if errors.As(err, &lim) {
			a.metrics.Rejections.WithLabelValues(lim.Reason).Inc()
		}
		WriteError(w, r, a.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, admissionResponse{
		Allowed:       true,
		DecisionID:    decisionID,
		CorrelationID: correlationID,
	})
}
