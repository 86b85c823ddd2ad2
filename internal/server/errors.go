package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dlai-sd/waooaw-gateway/internal/breaker"
	"github.com/dlai-sd/waooaw-gateway/internal/hooks"
	"github.com/dlai-sd/waooaw-gateway/internal/metering"
	"github.com/dlai-sd/waooaw-gateway/internal/openapi"
)

// PolicyError reports an action denied by a hook. Never retried
// automatically: the caller needs a fresh approval.
type PolicyError struct {
	Reason        string
	DecisionID    string
	CorrelationID string
	Details       map[string]any
}

func (e *PolicyError) Error() string {
	return "policy denied: " + e.Reason
}

// NewPolicyError builds a PolicyError from a hook deny decision.
func NewPolicyError(d hooks.Decision, correlationID string) *PolicyError {
	return &PolicyError{
		Reason:        d.Reason,
		DecisionID:    d.DecisionID,
		CorrelationID: correlationID,
		Details:       d.Details,
	}
}

// errorBody is the structured JSON shape for every enforcement failure.
type errorBody struct {
	Reason        string         `json:"reason"`
	Title         string         `json:"title"`
	CorrelationID string         `json:"correlation_id"`
	DecisionID    string         `json:"decision_id,omitempty"`
	ResetsAt      string         `json:"resets_at,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// WriteError translates the error taxonomy to its HTTP surface: 403 policy
// deny, 429 usage limit, 503 circuit open, 422 schema violation, 500
// otherwise. Enforcement failures are expected control flow, so everything
// but the fallback logs at info/warn rather than error.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	correlationID := GetCorrelationID(r.Context())

	var (
		policyErr *PolicyError
		limitErr  *metering.LimitError
		validErr  *openapi.ValidationError
	)

	switch {
	case errors.As(err, &policyErr):
		logger.Info("action denied by policy",
			slog.String("correlation_id", correlationID),
			slog.String("reason", policyErr.Reason),
			slog.String("decision_id", policyErr.DecisionID),
		)
		writeJSON(w, http.StatusForbidden, errorBody{
			Reason:        policyErr.Reason,
			Title:         "action requires approval before it can run",
			CorrelationID: correlationID,
			DecisionID:    policyErr.DecisionID,
			Details:       policyErr.Details,
		})

	case errors.As(err, &limitErr):
		logger.Info("usage limit reached",
			slog.String("correlation_id", correlationID),
			slog.String("reason", limitErr.Reason),
			slog.Time("resets_at", limitErr.ResetsAt),
		)
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Reason:        limitErr.Reason,
			Title:         "usage limit reached, retry after the window resets",
			CorrelationID: correlationID,
			ResetsAt:      limitErr.ResetsAt.UTC().Format(time.RFC3339),
		})

	case errors.Is(err, breaker.ErrOpen):
		logger.Warn("request rejected by circuit breaker",
			slog.String("correlation_id", correlationID),
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Reason:        "circuit_open",
			Title:         "circuit breaker rejected the request: backend is unavailable",
			CorrelationID: correlationID,
		})

	case errors.As(err, &validErr):
		logger.Info("request failed openapi validation",
			slog.String("correlation_id", correlationID),
			slog.String("detail", validErr.Detail),
		)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Reason:        "openapi_validation_failed",
			Title:         "openapi validation failed: " + validErr.Detail,
			CorrelationID: correlationID,
		})

	default:
		logger.Error("unhandled gateway error",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Reason:        "internal_error",
			Title:         "internal gateway error",
			CorrelationID: correlationID,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
