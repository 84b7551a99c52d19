package primary

import "context"

// BudgetService defines the primary port for budget enforcement.
// It implements a reserve/commit/release protocol so that an approval pending
// for minutes cannot let concurrent requests double-spend the same headroom.
type BudgetService interface {
	// CheckAndReserve counts the estimate against the counter immediately.
	// DecisionOK carries a reservation ID; DecisionRequiresOverride carries
	// the override approval request ID; DecisionEmergency means the caller
	// must report a budget-critical condition.
	CheckAndReserve(ctx context.Context, req ReserveRequest) (*BudgetDecision, error)

	// Commit finalizes a held reservation with actual usage.
	Commit(ctx context.Context, reservationID string, actualTokens, actualCostMicros int64) error

	// Release refunds a held reservation in full (execution failed or was
	// cancelled).
	Release(ctx context.Context, reservationID string) error

	// ApplyOverride grants the headroom approved by a budget-override
	// request and is the only path above the configured limit.
	ApplyOverride(ctx context.Context, overrideRequestID string) error

	// GetCounters retrieves the budget counters for a project.
	GetCounters(ctx context.Context, projectID string) ([]*BudgetCounter, error)

	// SetLimits replaces the configured limits for a (project, agent) counter.
	SetLimits(ctx context.Context, projectID, agentType string, dailyTokens, dailyCostMicros, sessionTokens int64) error

	// ResetDueCounters applies the daily reset boundary. Returns the number
	// of counters reset.
	ResetDueCounters(ctx context.Context) (int, error)
}

// ReserveRequest describes one budget reservation attempt.
type ReserveRequest struct {
	ProjectID           string
	TaskID              string
	AgentType           string
	EstimatedTokens     int64
	EstimatedCostMicros int64
}

// DecisionCode classifies the outcome of CheckAndReserve.
type DecisionCode string

// Decision codes
const (
	DecisionOK               DecisionCode = "OK"
	DecisionRequiresOverride DecisionCode = "REQUIRES_OVERRIDE"
	DecisionEmergency        DecisionCode = "EMERGENCY"
)

// BudgetDecision is the outcome of a CheckAndReserve call.
type BudgetDecision struct {
	Code              DecisionCode
	ReservationID     string // set when Code == DecisionOK
	OverrideRequestID string // set when Code == DecisionRequiresOverride
	Reason            string
}

// BudgetCounter represents a budget counter at the port boundary.
type BudgetCounter struct {
	ProjectID            string
	AgentType            string
	DailyTokenLimit      int64
	DailyCostLimitMicros int64
	SessionTokenLimit    int64
	TokensUsed           int64
	CostUsedMicros       int64
	TokensReserved       int64
	CostReservedMicros   int64
	OverrideTokens       int64
	OverrideCostMicros   int64
	EmergencyTriggered   bool
	LastResetAt          string
}
