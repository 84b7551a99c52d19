package primary

import "context"

// RecoveryService defines the primary port for supervised recovery of a
// halted project. Every step follows the same two-phase approve-then-act
// pattern the gate uses.
type RecoveryService interface {
	// InitiateRecovery assesses the halted project and produces an ordered
	// recovery plan. A project has at most one active session.
	InitiateRecovery(ctx context.Context, projectID string) (*RecoverySession, error)

	// ApproveStep records approval for one step. Execution of a step is
	// refused until its approval is recorded.
	ApproveStep(ctx context.Context, sessionID string, seq int) error

	// RejectStep rejects one step, aborting the session. The project stays
	// halted until an administrator intervenes.
	RejectStep(ctx context.Context, sessionID string, seq int, comment string) error

	// ExecuteStep performs one approved step. When the last step completes
	// the session is COMPLETED, the emergency stop is resolved, and the
	// project is re-armed.
	ExecuteStep(ctx context.Context, sessionID string, seq int) error

	// GetSession retrieves a session with its steps.
	GetSession(ctx context.Context, sessionID string) (*RecoverySession, error)

	// GetActiveSession retrieves the active session for a project, or nil.
	GetActiveSession(ctx context.Context, projectID string) (*RecoverySession, error)
}

// RecoverySession represents a recovery session at the port boundary.
type RecoverySession struct {
	ID          string
	ProjectID   string
	StopID      string
	Status      string // 'assessment', 'waiting_approval', 'executing', 'completed', 'aborted'
	CurrentStep int
	Steps       []*RecoveryStep
	CreatedAt   string
}

// RecoveryStep represents one step of a recovery plan.
type RecoveryStep struct {
	Seq         int
	Description string
	Action      string
	Approval    string // 'pending', 'approved', 'rejected'
	State       string // 'pending', 'done', 'failed'
	ApprovedBy  string
	ExecutedAt  string // May be empty
}

// Recovery session status constants
const (
	RecoveryStatusAssessment      = "assessment"
	RecoveryStatusWaitingApproval = "waiting_approval"
	RecoveryStatusExecuting       = "executing"
	RecoveryStatusCompleted       = "completed"
	RecoveryStatusAborted         = "aborted"
)

// Recovery step action constants. Actions are the executable side of a step;
// the recovery service interprets them when the step runs.
const (
	StepActionReleaseReservations = "release-held-reservations"
	StepActionClearEmergencyFlags = "clear-budget-emergency-flags"
	StepActionVerifyLedger        = "verify-approval-ledger"
	StepActionResumeProject       = "resume-project"
)
