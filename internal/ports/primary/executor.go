package primary

import "context"

// ExecutorHooks defines the primary port toward the task scheduler / agent
// executor. The executor must treat a non-proceed decision as final and must
// never execute speculatively ahead of one.
type ExecutorHooks interface {
	// BeforeExecute gates a proposed agent invocation: risk assessment,
	// budget reservation, pre-execution approval.
	BeforeExecute(ctx context.Context, task Task) (*ExecutionDecision, error)

	// AfterExecute gates the produced result (response approval), commits
	// or releases the budget reservation by verdict, and records the
	// attempt in the error-rate window.
	AfterExecute(ctx context.Context, task Task, result TaskResult) (*ExecutionDecision, error)
}

// Task is the opaque, interceptable unit of agent work seen by the governor.
type Task struct {
	ID           string
	ProjectID    string
	AgentType    string // 'analyst', 'architect', 'coder', 'tester', 'deployer'
	Action       string
	InputSummary string
}

// TaskResult is the outcome of an executed task.
type TaskResult struct {
	Summary          string
	ActualTokens     int64
	ActualCostMicros int64
	Failed           bool
}

// ExecutionDecision tells the executor whether to proceed.
type ExecutionDecision struct {
	Proceed       bool
	Outcome       Outcome
	Reason        string
	ApprovalID    string
	ReservationID string
}

// Agent type constants
const (
	AgentAnalyst   = "analyst"
	AgentArchitect = "architect"
	AgentCoder     = "coder"
	AgentTester    = "tester"
	AgentDeployer  = "deployer"
)
