// Package recovery contains the pure state machine rules for recovery
// sessions. Guards are pure functions that evaluate preconditions without
// side effects.
package recovery

import "fmt"

// Session status values mirror the ledger storage values.
const (
	StatusAssessment      = "assessment"
	StatusWaitingApproval = "waiting_approval"
	StatusExecuting       = "executing"
	StatusCompleted       = "completed"
	StatusAborted         = "aborted"
)

// Step approval and state values.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"

	StatePending = "pending"
	StateDone    = "done"
	StateFailed  = "failed"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

// IsTerminal reports whether a session status is terminal.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusAborted
}

// StepContext provides context for step guards.
type StepContext struct {
	SessionStatus string
	CurrentStep   int
	StepSeq       int
	StepApproval  string
	StepState     string
}

// CanApproveStep evaluates whether a step's approval may be recorded.
// Rules:
// - Session must not be terminal
// - Only the current step may be decided
// - Step approval must still be pending
func CanApproveStep(ctx StepContext) GuardResult {
	if IsTerminal(ctx.SessionStatus) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("session is %s", ctx.SessionStatus),
		}
	}
	if ctx.StepSeq != ctx.CurrentStep {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("step %d is not the current step (current: %d)", ctx.StepSeq, ctx.CurrentStep),
		}
	}
	if ctx.StepApproval != ApprovalPending {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("step %d approval already decided (%s)", ctx.StepSeq, ctx.StepApproval),
		}
	}
	return GuardResult{Allowed: true}
}

// CanExecuteStep evaluates whether a step may be executed.
// Rules:
// - Session must not be terminal
// - Only the current step may run
// - The step's approval must be recorded before it runs (approve-then-act)
// - The step must not have completed already; a failed step may be retried
func CanExecuteStep(ctx StepContext) GuardResult {
	if IsTerminal(ctx.SessionStatus) {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("session is %s", ctx.SessionStatus),
		}
	}
	if ctx.StepSeq != ctx.CurrentStep {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("step %d is not the current step (current: %d)", ctx.StepSeq, ctx.CurrentStep),
		}
	}
	if ctx.StepApproval != ApprovalApproved {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("step %d is not approved (approval: %s)", ctx.StepSeq, ctx.StepApproval),
		}
	}
	if ctx.StepState == StateDone {
		return GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("step %d already executed (state: %s)", ctx.StepSeq, ctx.StepState),
		}
	}
	return GuardResult{Allowed: true}
}

// StatusAfterStep computes the session status after a step completes.
// Steps are numbered from 1. The session moves back to WAITING_APPROVAL for
// the next step, or to COMPLETED when the finished step was the last one.
func StatusAfterStep(completedSeq, totalSteps int) string {
	if completedSeq >= totalSteps {
		return StatusCompleted
	}
	return StatusWaitingApproval
}
