// Package primary defines the primary ports (driving adapters) for the application.
// These are the interfaces through which the outside world drives the governor.
package primary

import (
	"context"
	"errors"
	"time"
)

// ErrProjectHalted is returned when an operation is refused because the
// project has an unresolved emergency stop.
var ErrProjectHalted = errors.New("project is halted")

// ApprovalGateService defines the primary port for the approval gate.
// Every agent invocation passes through it twice: once before execution and
// once for the produced response.
type ApprovalGateService interface {
	// RequestPreExecutionApproval creates (or returns the existing PENDING)
	// approval request for an agent invocation. Creation is idempotent per
	// (task id, kind). Fails closed: no request record, no execution.
	RequestPreExecutionApproval(ctx context.Context, req PreExecutionRequest) (*Approval, error)

	// RequestResponseApproval gates an agent's produced response before it
	// may affect project state.
	RequestResponseApproval(ctx context.Context, req ResponseApprovalRequest) (*Approval, error)

	// AwaitResolution suspends the caller until the request is resolved,
	// expires, or is preempted by an emergency stop. It never busy-waits.
	// Timeout <= 0 uses the request's own expiry.
	AwaitResolution(ctx context.Context, requestID string, timeout time.Duration) (*Resolution, error)

	// Resolve records a human decision. Idempotent: resolving an already
	// resolved request is a no-op that reports the winner's outcome.
	Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error)

	// GetApproval retrieves an approval by ID.
	GetApproval(ctx context.Context, requestID string) (*Approval, error)

	// ListApprovals lists approvals with optional filters.
	ListApprovals(ctx context.Context, filters ApprovalFilters) ([]*Approval, error)

	// SweepExpired transitions overdue PENDING requests to EXPIRED and
	// wakes their waiters. Returns the number of requests expired.
	SweepExpired(ctx context.Context) (int, error)
}

// PreExecutionRequest describes a proposed agent invocation.
type PreExecutionRequest struct {
	ProjectID    string
	TaskID       string
	AgentType    string
	Action       string
	InputSummary string
}

// ResponseApprovalRequest gates the output of an executed agent invocation.
type ResponseApprovalRequest struct {
	ProjectID         string
	TaskID            string
	AgentType         string
	ResponseSummary   string
	OriginalRequestID string
}

// ResolveRequest carries a human resolution for a pending approval.
type ResolveRequest struct {
	RequestID string
	Approve   bool
	Resolver  string
	Comment   string
}

// Approval represents an approval request at the port boundary.
type Approval struct {
	ID                  string
	ProjectID           string
	TaskID              string
	AgentType           string
	Kind                string // 'pre_execution', 'response', 'budget_override'
	Action              string
	EstimatedTokens     int64
	EstimatedCostMicros int64
	RiskFlags           []string
	Status              string // 'pending', 'approved', 'rejected', 'expired', 'cancelled'
	Reason              string
	Resolver            string
	Comment             string
	AutoApproved        bool
	CreatedAt           string
	ExpiresAt           string
	ResolvedAt          string // May be empty
}

// ApprovalFilters contains filter options for listing approvals.
type ApprovalFilters struct {
	ProjectID string
	TaskID    string
	Status    string
	Kind      string
	Limit     int
}

// Outcome is the terminal verdict observed by a waiting caller.
type Outcome string

// Outcome constants
const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeExpired  Outcome = "EXPIRED"
)

// Resolution is the result of awaiting or resolving an approval request.
type Resolution struct {
	RequestID string
	Outcome   Outcome
	Reason    string
	Resolver  string
	Comment   string
}

// Approval status constants
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusExpired   = "expired"
	ApprovalStatusCancelled = "cancelled"
)

// Approval kind constants
const (
	ApprovalKindPreExecution   = "pre_execution"
	ApprovalKindResponse       = "response"
	ApprovalKindBudgetOverride = "budget_override"
)

// ReasonEmergencyStop is the reason recorded when an emergency stop preempts
// a pending approval.
const ReasonEmergencyStop = "emergency-stop"
