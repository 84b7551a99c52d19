package primary

import "context"

// EmergencyStopService defines the primary port for the emergency stop
// controller. A project is either NORMAL or HALTED; HALTED projects refuse
// new pre-execution approvals until recovery completes.
type EmergencyStopService interface {
	// Trigger halts a project: marks it halted, cancels all PENDING
	// approvals (waking their waiters with reason "emergency-stop"), writes
	// the immutable stop record, and emits a critical alert. All steps are
	// attempted even if one fails.
	Trigger(ctx context.Context, req TriggerRequest) (*EmergencyStop, error)

	// RecordAttempt feeds the sliding error-rate window for a project and
	// trips the error-rate condition when the failure ratio is exceeded.
	RecordAttempt(ctx context.Context, projectID string, failed bool) error

	// IsHalted reports whether the project currently has an unresolved
	// emergency stop.
	IsHalted(ctx context.Context, projectID string) (bool, error)

	// ActiveStop retrieves the unresolved stop record for a project, or nil.
	ActiveStop(ctx context.Context, projectID string) (*EmergencyStop, error)

	// ListStops retrieves stop history for a project, newest first.
	ListStops(ctx context.Context, projectID string) ([]*EmergencyStop, error)

	// Clear is the administrative last-resort path that resolves an active
	// stop without a completed recovery session. Requires force.
	Clear(ctx context.Context, projectID string, force bool) error
}

// TriggerRequest describes an emergency stop trigger.
type TriggerRequest struct {
	ProjectID  string
	Conditions []string
	Severity   string // 'warning', 'critical'
	Reason     string
}

// EmergencyStop represents an emergency stop record at the port boundary.
type EmergencyStop struct {
	ID            string
	ProjectID     string
	Conditions    []string
	Severity      string
	Reason        string
	AffectedTasks []string
	CreatedAt     string
	ResolvedAt    string // May be empty
}

// Emergency stop condition constants
const (
	ConditionBudgetCritical     = "budget-critical"
	ConditionErrorRate          = "error-rate"
	ConditionSecurityThreat     = "security-threat"
	ConditionManualStop         = "manual-stop"
	ConditionResourceExhaustion = "resource-exhaustion"
)

// Severity constants
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)
