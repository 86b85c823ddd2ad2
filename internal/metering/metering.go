// Package metering admits or rejects metered operations against trial caps
// and monthly plan budgets. All windows are calendar-aligned: daily caps
// reset at the next UTC midnight, budgets at the first instant of the next
// month, regardless of when in the window the first call lands.
package metering

import (
	"fmt"
	"time"
)

// Rejection reasons, surfaced verbatim to API callers.
const (
	ReasonTrialDailyCap      = "trial_daily_cap"
	ReasonTrialDailyTokenCap = "trial_daily_token_cap"
	ReasonMonthlyBudget      = "monthly_budget_exceeded"
)

// TrialLimits caps customers in trial mode. DailyTokens of zero disables the
// token cap.
type TrialLimits struct {
	DailyTasks  int64
	DailyTokens int64
}

// PlanCatalog maps plan IDs to their monthly USD allowance. Plans absent
// from the catalog are not budget-enforced.
type PlanCatalog map[string]float64

// LimitError reports a cap or budget rejection. The caller may retry after
// ResetsAt; the rejected call consumed nothing.
type LimitError struct {
	Reason        string
	ResetsAt      time.Time
	CorrelationID string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("usage limit %s: resets at %s", e.Reason, e.ResetsAt.Format(time.RFC3339))
}

// nextMidnightUTC returns the first instant of the next UTC day, computed
// fresh so the window always resolves to a real midnight.
func nextMidnightUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// nextMonthUTC returns the first instant of the next month in UTC.
func nextMonthUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func trialTaskKey(customerID string, now time.Time) string {
	return fmt.Sprintf("%s:trial_tasks:%s", customerID, now.UTC().Format("2006-01-02"))
}

func trialTokenKey(customerID string, now time.Time) string {
	return fmt.Sprintf("%s:trial_tokens:%s", customerID, now.UTC().Format("2006-01-02"))
}

func budgetKey(customerID, planID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:budget:%s", customerID, planID, now.UTC().Format("2006-01"))
}
