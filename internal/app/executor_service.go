package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/warden/internal/core/risk"
	"github.com/example/warden/internal/ports/primary"
)

// ExecutorServiceImpl implements the ExecutorHooks interface. It is the
// single seam between the task scheduler and the governor: every agent
// invocation passes through BeforeExecute and AfterExecute, and the executor
// treats a non-proceed decision as final.
type ExecutorServiceImpl struct {
	gate      primary.ApprovalGateService
	budget    primary.BudgetService
	emergency primary.EmergencyStopService
	riskCfg   risk.Config

	mu      sync.Mutex
	inTasks map[string]*taskState // keyed by task ID
}

// taskState carries the reservation and approval from BeforeExecute to the
// matching AfterExecute call.
type taskState struct {
	reservationID string
	approvalID    string
}

// NewExecutorService creates a new ExecutorHooks implementation with
// injected dependencies.
func NewExecutorService(
	gate primary.ApprovalGateService,
	budget primary.BudgetService,
	emergency primary.EmergencyStopService,
	riskCfg risk.Config,
) *ExecutorServiceImpl {
	return &ExecutorServiceImpl{
		gate:      gate,
		budget:    budget,
		emergency: emergency,
		riskCfg:   riskCfg,
		inTasks:   make(map[string]*taskState),
	}
}

// BeforeExecute gates a proposed agent invocation: risk assessment, budget
// reservation, pre-execution approval. The budget is reserved before the
// approval is requested so that an approval pending for minutes holds its
// headroom the whole time.
func (s *ExecutorServiceImpl) BeforeExecute(ctx context.Context, task primary.Task) (*primary.ExecutionDecision, error) {
	halted, err := s.emergency.IsHalted(ctx, task.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to check halt state: %w", err)
	}
	if halted {
		return noProceed(primary.ReasonEmergencyStop), nil
	}

	assessment := risk.Assess(s.riskCfg, task.AgentType, task.Action, task.InputSummary)

	decision, err := s.budget.CheckAndReserve(ctx, primary.ReserveRequest{
		ProjectID:           task.ProjectID,
		TaskID:              task.ID,
		AgentType:           task.AgentType,
		EstimatedTokens:     assessment.EstimatedTokens,
		EstimatedCostMicros: assessment.EstimatedCostMicros,
	})
	if err != nil {
		return nil, fmt.Errorf("budget check failed: %w", err)
	}
	switch decision.Code {
	case primary.DecisionEmergency:
		if _, terr := s.emergency.Trigger(ctx, primary.TriggerRequest{
			ProjectID:  task.ProjectID,
			Conditions: []string{primary.ConditionBudgetCritical},
			Severity:   primary.SeverityCritical,
			Reason:     decision.Reason,
		}); terr != nil {
			return nil, fmt.Errorf("failed to trigger emergency stop: %w", terr)
		}
		return noProceed(decision.Reason), nil
	case primary.DecisionRequiresOverride:
		out := noProceed(decision.Reason)
		out.ApprovalID = decision.OverrideRequestID
		return out, nil
	}

	approval, err := s.gate.RequestPreExecutionApproval(ctx, primary.PreExecutionRequest{
		ProjectID:    task.ProjectID,
		TaskID:       task.ID,
		AgentType:    task.AgentType,
		Action:       task.Action,
		InputSummary: task.InputSummary,
	})
	if err != nil {
		s.releaseQuietly(ctx, decision.ReservationID)
		if errors.Is(err, primary.ErrProjectHalted) {
			return noProceed(primary.ReasonEmergencyStop), nil
		}
		return nil, err
	}

	resolution := &primary.Resolution{
		RequestID: approval.ID,
		Outcome:   primary.OutcomeApproved,
		Reason:    approval.Reason,
	}
	if !approval.AutoApproved {
		resolution, err = s.gate.AwaitResolution(ctx, approval.ID, 0)
		if err != nil {
			s.releaseQuietly(ctx, decision.ReservationID)
			return nil, err
		}
	}

	if resolution.Outcome != primary.OutcomeApproved {
		s.releaseQuietly(ctx, decision.ReservationID)
		if err := s.tripSecurityThreat(ctx, task, approval, resolution.Outcome); err != nil {
			return nil, err
		}
		out := noProceed(resolution.Reason)
		out.Outcome = resolution.Outcome
		out.ApprovalID = approval.ID
		return out, nil
	}

	s.mu.Lock()
	s.inTasks[task.ID] = &taskState{
		reservationID: decision.ReservationID,
		approvalID:    approval.ID,
	}
	s.mu.Unlock()

	return &primary.ExecutionDecision{
		Proceed:       true,
		Outcome:       primary.OutcomeApproved,
		Reason:        resolution.Reason,
		ApprovalID:    approval.ID,
		ReservationID: decision.ReservationID,
	}, nil
}

// AfterExecute gates the produced result, settles the budget reservation by
// verdict, and feeds the error-rate window. The attempt is recorded even
// when the response is rejected.
func (s *ExecutorServiceImpl) AfterExecute(ctx context.Context, task primary.Task, result primary.TaskResult) (*primary.ExecutionDecision, error) {
	s.mu.Lock()
	state := s.inTasks[task.ID]
	delete(s.inTasks, task.ID)
	s.mu.Unlock()
	if state == nil {
		return nil, fmt.Errorf("no in-flight state for task %s; was BeforeExecute skipped?", task.ID)
	}

	if err := s.emergency.RecordAttempt(ctx, task.ProjectID, result.Failed); err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	if result.Failed {
		s.releaseQuietly(ctx, state.reservationID)
		return noProceed("task execution failed"), nil
	}

	approval, err := s.gate.RequestResponseApproval(ctx, primary.ResponseApprovalRequest{
		ProjectID:         task.ProjectID,
		TaskID:            task.ID,
		AgentType:         task.AgentType,
		ResponseSummary:   result.Summary,
		OriginalRequestID: state.approvalID,
	})
	if err != nil {
		s.releaseQuietly(ctx, state.reservationID)
		if errors.Is(err, primary.ErrProjectHalted) {
			return noProceed(primary.ReasonEmergencyStop), nil
		}
		return nil, err
	}

	resolution := &primary.Resolution{
		RequestID: approval.ID,
		Outcome:   primary.OutcomeApproved,
		Reason:    approval.Reason,
	}
	if !approval.AutoApproved {
		resolution, err = s.gate.AwaitResolution(ctx, approval.ID, 0)
		if err != nil {
			s.releaseQuietly(ctx, state.reservationID)
			return nil, err
		}
	}

	if resolution.Outcome != primary.OutcomeApproved {
		s.releaseQuietly(ctx, state.reservationID)
		if err := s.tripSecurityThreat(ctx, task, approval, resolution.Outcome); err != nil {
			return nil, err
		}
		out := noProceed(resolution.Reason)
		out.Outcome = resolution.Outcome
		out.ApprovalID = approval.ID
		return out, nil
	}

	if err := s.budget.Commit(ctx, state.reservationID, result.ActualTokens, result.ActualCostMicros); err != nil {
		return nil, fmt.Errorf("failed to commit reservation %s: %w", state.reservationID, err)
	}

	return &primary.ExecutionDecision{
		Proceed:       true,
		Outcome:       primary.OutcomeApproved,
		Reason:        resolution.Reason,
		ApprovalID:    approval.ID,
		ReservationID: state.reservationID,
	}, nil
}

// tripSecurityThreat halts the project when a security-flagged request ends
// without an explicit approval. A credential or destructive flag that a human
// did not clear is a stop condition, not just a refused task.
func (s *ExecutorServiceImpl) tripSecurityThreat(ctx context.Context, task primary.Task, approval *primary.Approval, outcome primary.Outcome) error {
	if !risk.HasSecurityFlags(approval.RiskFlags) {
		return nil
	}
	if _, err := s.emergency.Trigger(ctx, primary.TriggerRequest{
		ProjectID:  task.ProjectID,
		Conditions: []string{primary.ConditionSecurityThreat},
		Severity:   primary.SeverityCritical,
		Reason: fmt.Sprintf("security-flagged request %s for task %s was not approved (%s)",
			approval.ID, task.ID, outcome),
	}); err != nil {
		return fmt.Errorf("failed to trigger emergency stop: %w", err)
	}
	return nil
}

// releaseQuietly refunds a reservation on a non-proceed path. A lost race
// means someone already settled it, which is fine.
func (s *ExecutorServiceImpl) releaseQuietly(ctx context.Context, reservationID string) {
	if reservationID == "" {
		return
	}
	_ = s.budget.Release(ctx, reservationID)
}

func noProceed(reason string) *primary.ExecutionDecision {
	return &primary.ExecutionDecision{
		Proceed: false,
		Outcome: primary.OutcomeRejected,
		Reason:  reason,
	}
}

// Ensure ExecutorServiceImpl implements the interface
var _ primary.ExecutorHooks = (*ExecutorServiceImpl)(nil)
