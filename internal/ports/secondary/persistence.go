// Package secondary defines the secondary ports (driven adapters) for the application.
// These are the interfaces through which the application drives external systems.
package secondary

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by the ledger ports. Adapters translate storage
// errors into these so services can branch without knowing the engine.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates an insert collided with a live record
	// (e.g. a second PENDING approval for the same task and kind).
	ErrDuplicate = errors.New("duplicate record")

	// ErrLostRace indicates a compare-and-swap found the record in a
	// different state than expected. The caller should re-read to observe
	// the winner's outcome.
	ErrLostRace = errors.New("lost compare-and-swap race")

	// ErrInsufficientBudget indicates a conditional reservation was refused
	// because it would push a counter above its limit.
	ErrInsufficientBudget = errors.New("insufficient budget headroom")
)

// ApprovalLedger defines the secondary port for approval persistence.
// Rows are audit records and are never deleted.
type ApprovalLedger interface {
	// Create persists a new approval request. Returns ErrDuplicate when a
	// PENDING request already exists for the same (task id, kind).
	Create(ctx context.Context, approval *ApprovalRecord) error

	// GetByID retrieves an approval by its ID.
	GetByID(ctx context.Context, id string) (*ApprovalRecord, error)

	// GetPendingByTaskKind retrieves the live PENDING approval for a
	// (task id, kind) pair, or ErrNotFound.
	GetPendingByTaskKind(ctx context.Context, taskID, kind string) (*ApprovalRecord, error)

	// CompareAndSwapStatus transitions status from -> to atomically.
	// Exactly one caller wins a race; losers get ErrLostRace. Moving out of
	// PENDING stamps resolved_at and records resolver, comment and reason.
	CompareAndSwapStatus(ctx context.Context, id, from, to, resolver, comment, reason string) error

	// List retrieves approvals matching the given filters.
	List(ctx context.Context, filters ApprovalFilters) ([]*ApprovalRecord, error)

	// ListOverdue retrieves PENDING approvals whose expiry has passed.
	ListOverdue(ctx context.Context, now time.Time) ([]*ApprovalRecord, error)

	// GetNextID returns the next available approval ID.
	GetNextID(ctx context.Context) (string, error)
}

// ApprovalRecord represents an approval request as stored in the ledger.
type ApprovalRecord struct {
	ID                  string
	ProjectID           string
	TaskID              string
	AgentType           string
	Kind                string // 'pre_execution', 'response', 'budget_override'
	Action              string
	InputSummary        string
	EstimatedTokens     int64
	EstimatedCostMicros int64 // integer micro-USD, never floating point
	RiskFlags           []string
	Status              string // 'pending', 'approved', 'rejected', 'expired', 'cancelled'
	Reason              string // human-readable reason for the latest outcome
	Resolver            string
	Comment             string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	ResolvedAt          *time.Time
}

// ApprovalFilters contains filter options for querying approvals.
type ApprovalFilters struct {
	ProjectID string
	TaskID    string
	Status    string
	Kind      string
	Limit     int
}

// Approval status constants (storage values)
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusExpired   = "expired"
	ApprovalStatusCancelled = "cancelled"
)

// Approval kind constants (storage values)
const (
	ApprovalKindPreExecution   = "pre_execution"
	ApprovalKindResponse       = "response"
	ApprovalKindBudgetOverride = "budget_override"
)

// BudgetLedger defines the secondary port for budget persistence.
// Counters are keyed (project id, agent type) and created lazily. All
// mutation is SQL-side conditional arithmetic; there is no read-then-write.
type BudgetLedger interface {
	// GetOrCreate returns the counter for (project, agent), creating it
	// with the given defaults on first use.
	GetOrCreate(ctx context.Context, projectID, agentType string, defaults BudgetDefaults) (*BudgetCounterRecord, error)

	// Reserve atomically counts the reservation against the limit and
	// inserts the reservation row, in one transaction. Returns
	// ErrInsufficientBudget (and changes nothing) when
	// used + reserved + requested would exceed limit + override headroom.
	Reserve(ctx context.Context, reservation *ReservationRecord) error

	// CommitReservation finalizes a held reservation with actual usage:
	// reserved amounts are returned and actuals are added to used.
	// Returns ErrLostRace if the reservation is no longer held.
	CommitReservation(ctx context.Context, reservationID string, actualTokens, actualCostMicros int64) error

	// ReleaseReservation refunds a held reservation in full.
	// Returns ErrLostRace if the reservation is no longer held.
	ReleaseReservation(ctx context.Context, reservationID string) error

	// GetReservation retrieves a reservation by ID.
	GetReservation(ctx context.Context, reservationID string) (*ReservationRecord, error)

	// ListReservationsByState retrieves a project's reservations in the
	// given state. Recovery uses it to inventory held reservations.
	ListReservationsByState(ctx context.Context, projectID, state string) ([]*ReservationRecord, error)

	// GrantOverride raises the counter's override headroom. This is the
	// only path that lets consumption move above the configured limit.
	GrantOverride(ctx context.Context, projectID, agentType string, tokens, costMicros int64) error

	// SetLimits replaces the configured limits for a counter.
	SetLimits(ctx context.Context, projectID, agentType string, dailyTokens, dailyCostMicros, sessionTokens int64) error

	// SetEmergencyTriggered flags/unflags the counter's emergency marker.
	SetEmergencyTriggered(ctx context.Context, projectID, agentType string, triggered bool) error

	// ResetDue zeroes used amounts and override headroom for counters whose
	// reset boundary has passed. Mode is "calendar" (UTC day) or "rolling"
	// (24h since last reset). Returns the number of counters reset.
	ResetDue(ctx context.Context, now time.Time, mode string) (int, error)

	// ListByProject retrieves all counters for a project.
	ListByProject(ctx context.Context, projectID string) ([]*BudgetCounterRecord, error)

	// GetNextReservationID returns the next available reservation ID.
	GetNextReservationID(ctx context.Context) (string, error)
}

// BudgetDefaults holds the limits applied when a counter is lazily created.
type BudgetDefaults struct {
	DailyTokenLimit      int64
	DailyCostLimitMicros int64
	SessionTokenLimit    int64
}

// BudgetCounterRecord represents a budget counter as stored in the ledger.
type BudgetCounterRecord struct {
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
	LastResetAt          time.Time
	UpdatedAt            time.Time
}

// ReservationRecord represents one budget reservation.
type ReservationRecord struct {
	ID          string
	ProjectID   string
	AgentType   string
	Tokens      int64
	CostMicros  int64
	State       string // 'held', 'committed', 'released'
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// Reservation state constants (storage values)
const (
	ReservationStateHeld      = "held"
	ReservationStateCommitted = "committed"
	ReservationStateReleased  = "released"
)

// EmergencyStopRepository defines the secondary port for emergency stop records.
// Records are immutable except for resolved_at.
type EmergencyStopRepository interface {
	// Create persists a new emergency stop record.
	Create(ctx context.Context, stop *EmergencyStopRecord) error

	// GetByID retrieves a stop record by ID.
	GetByID(ctx context.Context, id string) (*EmergencyStopRecord, error)

	// GetActiveByProject retrieves the unresolved stop record for a
	// project, or ErrNotFound. While one exists the project is halted.
	GetActiveByProject(ctx context.Context, projectID string) (*EmergencyStopRecord, error)

	// Resolve stamps resolved_at on a stop record.
	Resolve(ctx context.Context, id string) error

	// List retrieves stop records for a project, newest first.
	List(ctx context.Context, projectID string) ([]*EmergencyStopRecord, error)

	// GetNextID returns the next available stop record ID.
	GetNextID(ctx context.Context) (string, error)
}

// EmergencyStopRecord represents an emergency stop as stored in the ledger.
type EmergencyStopRecord struct {
	ID            string
	ProjectID     string
	Conditions    []string
	Severity      string // 'warning', 'critical'
	Reason        string
	AffectedTasks []string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Severity constants (storage values)
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ProjectRepository defines the secondary port for project persistence.
type ProjectRepository interface {
	// Create persists a new project.
	Create(ctx context.Context, project *ProjectRecord) error

	// GetByID retrieves a project by its ID.
	GetByID(ctx context.Context, id string) (*ProjectRecord, error)

	// SetStatus updates a project's status.
	SetStatus(ctx context.Context, id, status string) error

	// List retrieves all projects.
	List(ctx context.Context) ([]*ProjectRecord, error)

	// GetNextID returns the next available project ID.
	GetNextID(ctx context.Context) (string, error)
}

// ProjectRecord represents a project as stored in persistence.
type ProjectRecord struct {
	ID        string
	Name      string
	Status    string // 'active', 'halted', 'archived'
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project status constants (storage values)
const (
	ProjectStatusActive   = "active"
	ProjectStatusHalted   = "halted"
	ProjectStatusArchived = "archived"
)

// RecoveryRepository defines the secondary port for recovery session persistence.
type RecoveryRepository interface {
	// CreateSession persists a session and its ordered steps.
	CreateSession(ctx context.Context, session *RecoverySessionRecord, steps []*RecoveryStepRecord) error

	// GetSession retrieves a session and its steps.
	GetSession(ctx context.Context, id string) (*RecoverySessionRecord, []*RecoveryStepRecord, error)

	// GetActiveByProject retrieves the non-terminal session for a project,
	// or ErrNotFound.
	GetActiveByProject(ctx context.Context, projectID string) (*RecoverySessionRecord, error)

	// UpdateSessionStatus updates a session's status and current step index.
	UpdateSessionStatus(ctx context.Context, id, status string, currentStep int) error

	// SetStepApproval records a step's approval outcome via compare-and-swap
	// on the pending approval. Returns ErrLostRace if already decided.
	SetStepApproval(ctx context.Context, sessionID string, seq int, approval, approvedBy string) error

	// SetStepState updates a step's execution state, stamping executed_at.
	SetStepState(ctx context.Context, sessionID string, seq int, state string) error

	// GetNextID returns the next available session ID.
	GetNextID(ctx context.Context) (string, error)
}

// RecoverySessionRecord represents a recovery session as stored in persistence.
type RecoverySessionRecord struct {
	ID          string
	ProjectID   string
	StopID      string
	Status      string // 'assessment', 'waiting_approval', 'executing', 'completed', 'aborted'
	CurrentStep int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecoveryStepRecord represents one step of a recovery session.
type RecoveryStepRecord struct {
	SessionID   string
	Seq         int
	Description string
	Action      string
	Approval    string // 'pending', 'approved', 'rejected'
	State       string // 'pending', 'done', 'failed'
	ApprovedBy  string
	ExecutedAt  *time.Time
}

// Recovery session status constants (storage values)
const (
	RecoveryStatusAssessment      = "assessment"
	RecoveryStatusWaitingApproval = "waiting_approval"
	RecoveryStatusExecuting       = "executing"
	RecoveryStatusCompleted       = "completed"
	RecoveryStatusAborted         = "aborted"
)

// Recovery step constants (storage values)
const (
	StepApprovalPending  = "pending"
	StepApprovalApproved = "approved"
	StepApprovalRejected = "rejected"

	StepStatePending = "pending"
	StepStateDone    = "done"
	StepStateFailed  = "failed"
)
