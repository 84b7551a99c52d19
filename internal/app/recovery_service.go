package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/warden/internal/core/recovery"
	"github.com/example/warden/internal/ctxutil"
	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

// RecoveryServiceImpl implements the RecoveryService interface. Recovery is
// deliberately slow: each step is approved by a human before it runs, and a
// rejected step leaves the project halted.
type RecoveryServiceImpl struct {
	recoveryRepo secondary.RecoveryRepository
	stopRepo     secondary.EmergencyStopRepository
	approvalRepo secondary.ApprovalLedger
	budgetRepo   secondary.BudgetLedger
	projectRepo  secondary.ProjectRepository
	notifier     secondary.Notifier
	logWriter    secondary.LogWriter
}

// NewRecoveryService creates a new RecoveryService with injected dependencies.
func NewRecoveryService(
	recoveryRepo secondary.RecoveryRepository,
	stopRepo secondary.EmergencyStopRepository,
	approvalRepo secondary.ApprovalLedger,
	budgetRepo secondary.BudgetLedger,
	projectRepo secondary.ProjectRepository,
	notifier secondary.Notifier,
	logWriter secondary.LogWriter,
) *RecoveryServiceImpl {
	return &RecoveryServiceImpl{
		recoveryRepo: recoveryRepo,
		stopRepo:     stopRepo,
		approvalRepo: approvalRepo,
		budgetRepo:   budgetRepo,
		projectRepo:  projectRepo,
		notifier:     notifier,
		logWriter:    logWriter,
	}
}

// InitiateRecovery assesses the halted project and produces an ordered
// recovery plan. A project has at most one active session.
func (s *RecoveryServiceImpl) InitiateRecovery(ctx context.Context, projectID string) (*primary.RecoverySession, error) {
	stop, err := s.stopRepo.GetActiveByProject(ctx, projectID)
	if errors.Is(err, secondary.ErrNotFound) {
		return nil, fmt.Errorf("project %s is not halted; nothing to recover", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check emergency stop: %w", err)
	}

	if existing, err := s.recoveryRepo.GetActiveByProject(ctx, projectID); err == nil {
		return nil, fmt.Errorf("project %s already has an active recovery session (%s)", projectID, existing.ID)
	} else if !errors.Is(err, secondary.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active session: %w", err)
	}

	steps, err := s.assess(ctx, projectID)
	if err != nil {
		return nil, err
	}

	id, err := s.recoveryRepo.GetNextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate session ID: %w", err)
	}

	session := &secondary.RecoverySessionRecord{
		ID:          id,
		ProjectID:   projectID,
		StopID:      stop.ID,
		Status:      secondary.RecoveryStatusWaitingApproval,
		CurrentStep: 1,
	}
	for _, step := range steps {
		step.SessionID = id
	}
	if err := s.recoveryRepo.CreateSession(ctx, session, steps); err != nil {
		return nil, fmt.Errorf("failed to create recovery session: %w", err)
	}

	if s.logWriter != nil {
		_ = s.logWriter.LogEvent(ctx, "recovery_session", id,
			fmt.Sprintf("recovery initiated for %s (%d steps)", projectID, len(steps)))
	}

	return s.GetSession(ctx, id)
}

// assess inventories the halted project's damage and builds the ordered plan.
// The resume step is always last: nothing un-halts a project before the
// earlier cleanup steps are through.
func (s *RecoveryServiceImpl) assess(ctx context.Context, projectID string) ([]*secondary.RecoveryStepRecord, error) {
	var steps []*secondary.RecoveryStepRecord
	add := func(description, action string) {
		steps = append(steps, &secondary.RecoveryStepRecord{
			Seq:         len(steps) + 1,
			Description: description,
			Action:      action,
		})
	}

	held, err := s.budgetRepo.ListReservationsByState(ctx, projectID, secondary.ReservationStateHeld)
	if err != nil {
		return nil, fmt.Errorf("failed to inventory reservations: %w", err)
	}
	if len(held) > 0 {
		add(fmt.Sprintf("Release %d held budget reservation(s)", len(held)),
			primary.StepActionReleaseReservations)
	}

	counters, err := s.budgetRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to inventory budget counters: %w", err)
	}
	flagged := 0
	for _, counter := range counters {
		if counter.EmergencyTriggered {
			flagged++
		}
	}
	if flagged > 0 {
		add(fmt.Sprintf("Clear emergency flag on %d budget counter(s)", flagged),
			primary.StepActionClearEmergencyFlags)
	}

	add("Verify no approval requests are still pending", primary.StepActionVerifyLedger)
	add("Resolve the emergency stop and resume the project", primary.StepActionResumeProject)

	return steps, nil
}

// ApproveStep records approval for one step.
func (s *RecoveryServiceImpl) ApproveStep(ctx context.Context, sessionID string, seq int) error {
	session, step, err := s.loadStep(ctx, sessionID, seq)
	if err != nil {
		return err
	}

	guard := recovery.CanApproveStep(recovery.StepContext{
		SessionStatus: session.Status,
		CurrentStep:   session.CurrentStep,
		StepSeq:       seq,
		StepApproval:  step.Approval,
		StepState:     step.State,
	})
	if !guard.Allowed {
		return guard.Error()
	}

	approver := ctxutil.ActorFromContext(ctx)
	if approver == "" {
		approver = "operator"
	}
	if err := s.recoveryRepo.SetStepApproval(ctx, sessionID, seq, secondary.StepApprovalApproved, approver); err != nil {
		return fmt.Errorf("failed to approve step %d: %w", seq, err)
	}
	return nil
}

// RejectStep rejects one step, aborting the session. The project stays
// halted until an administrator force-clears the stop.
func (s *RecoveryServiceImpl) RejectStep(ctx context.Context, sessionID string, seq int, comment string) error {
	session, step, err := s.loadStep(ctx, sessionID, seq)
	if err != nil {
		return err
	}

	guard := recovery.CanApproveStep(recovery.StepContext{
		SessionStatus: session.Status,
		CurrentStep:   session.CurrentStep,
		StepSeq:       seq,
		StepApproval:  step.Approval,
		StepState:     step.State,
	})
	if !guard.Allowed {
		return guard.Error()
	}

	rejecter := ctxutil.ActorFromContext(ctx)
	if rejecter == "" {
		rejecter = "operator"
	}
	if err := s.recoveryRepo.SetStepApproval(ctx, sessionID, seq, secondary.StepApprovalRejected, rejecter); err != nil {
		return fmt.Errorf("failed to reject step %d: %w", seq, err)
	}
	if err := s.recoveryRepo.UpdateSessionStatus(ctx, sessionID, secondary.RecoveryStatusAborted, seq); err != nil {
		return fmt.Errorf("failed to abort session: %w", err)
	}

	_ = s.notifier.NotifyAlert(ctx, secondary.SafetyAlertEvent{
		Severity:  secondary.SeverityWarning,
		ProjectID: session.ProjectID,
		Message:   fmt.Sprintf("recovery %s aborted at step %d: %s", sessionID, seq, comment),
	})
	if s.logWriter != nil {
		_ = s.logWriter.LogEvent(ctx, "recovery_session", sessionID,
			fmt.Sprintf("aborted at step %d: %s", seq, comment))
	}
	return nil
}

// ExecuteStep performs one approved step. When the last step completes the
// session is COMPLETED and the project is re-armed.
func (s *RecoveryServiceImpl) ExecuteStep(ctx context.Context, sessionID string, seq int) error {
	session, step, err := s.loadStep(ctx, sessionID, seq)
	if err != nil {
		return err
	}

	guard := recovery.CanExecuteStep(recovery.StepContext{
		SessionStatus: session.Status,
		CurrentStep:   session.CurrentStep,
		StepSeq:       seq,
		StepApproval:  step.Approval,
		StepState:     step.State,
	})
	if !guard.Allowed {
		return guard.Error()
	}

	if err := s.recoveryRepo.UpdateSessionStatus(ctx, sessionID, secondary.RecoveryStatusExecuting, seq); err != nil {
		return fmt.Errorf("failed to mark session executing: %w", err)
	}

	if err := s.runAction(ctx, session, step); err != nil {
		_ = s.recoveryRepo.SetStepState(ctx, sessionID, seq, secondary.StepStateFailed)
		_ = s.recoveryRepo.UpdateSessionStatus(ctx, sessionID, secondary.RecoveryStatusWaitingApproval, seq)
		return fmt.Errorf("step %d failed: %w", seq, err)
	}

	if err := s.recoveryRepo.SetStepState(ctx, sessionID, seq, secondary.StepStateDone); err != nil {
		return fmt.Errorf("failed to mark step done: %w", err)
	}

	_, steps, err := s.recoveryRepo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	next := recovery.StatusAfterStep(seq, len(steps))
	if err := s.recoveryRepo.UpdateSessionStatus(ctx, sessionID, next, seq+1); err != nil {
		return fmt.Errorf("failed to advance session: %w", err)
	}

	if next == secondary.RecoveryStatusCompleted {
		_ = s.notifier.NotifyAlert(ctx, secondary.SafetyAlertEvent{
			Severity:  secondary.SeverityWarning,
			ProjectID: session.ProjectID,
			Message:   fmt.Sprintf("recovery %s completed; project %s resumed", sessionID, session.ProjectID),
		})
	}
	return nil
}

// runAction executes one step's action against the ledgers.
func (s *RecoveryServiceImpl) runAction(ctx context.Context, session *secondary.RecoverySessionRecord, step *secondary.RecoveryStepRecord) error {
	switch step.Action {
	case primary.StepActionReleaseReservations:
		held, err := s.budgetRepo.ListReservationsByState(ctx, session.ProjectID, secondary.ReservationStateHeld)
		if err != nil {
			return err
		}
		for _, reservation := range held {
			err := s.budgetRepo.ReleaseReservation(ctx, reservation.ID)
			if err != nil && !errors.Is(err, secondary.ErrLostRace) {
				return fmt.Errorf("release %s: %w", reservation.ID, err)
			}
		}
		return nil

	case primary.StepActionClearEmergencyFlags:
		counters, err := s.budgetRepo.ListByProject(ctx, session.ProjectID)
		if err != nil {
			return err
		}
		for _, counter := range counters {
			if !counter.EmergencyTriggered {
				continue
			}
			if err := s.budgetRepo.SetEmergencyTriggered(ctx, session.ProjectID, counter.AgentType, false); err != nil {
				return fmt.Errorf("clear flag on %s: %w", counter.AgentType, err)
			}
		}
		return nil

	case primary.StepActionVerifyLedger:
		pending, err := s.approvalRepo.List(ctx, secondary.ApprovalFilters{
			ProjectID: session.ProjectID,
			Status:    secondary.ApprovalStatusPending,
		})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d approval request(s) still pending; resolve them first", len(pending))
		}
		return nil

	case primary.StepActionResumeProject:
		if err := s.stopRepo.Resolve(ctx, session.StopID); err != nil && !errors.Is(err, secondary.ErrNotFound) {
			return fmt.Errorf("resolve stop %s: %w", session.StopID, err)
		}
		if err := s.projectRepo.SetStatus(ctx, session.ProjectID, secondary.ProjectStatusActive); err != nil {
			return fmt.Errorf("re-arm project: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown recovery action %q", step.Action)
	}
}

// GetSession retrieves a session with its steps.
func (s *RecoveryServiceImpl) GetSession(ctx context.Context, sessionID string) (*primary.RecoverySession, error) {
	session, steps, err := s.recoveryRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.recordToSession(session, steps), nil
}

// GetActiveSession retrieves the active session for a project, or nil.
func (s *RecoveryServiceImpl) GetActiveSession(ctx context.Context, projectID string) (*primary.RecoverySession, error) {
	session, err := s.recoveryRepo.GetActiveByProject(ctx, projectID)
	if errors.Is(err, secondary.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, session.ID)
}

// Helper methods

func (s *RecoveryServiceImpl) loadStep(ctx context.Context, sessionID string, seq int) (*secondary.RecoverySessionRecord, *secondary.RecoveryStepRecord, error) {
	session, steps, err := s.recoveryRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	for _, step := range steps {
		if step.Seq == seq {
			return session, step, nil
		}
	}
	return nil, nil, fmt.Errorf("session %s has no step %d", sessionID, seq)
}

func (s *RecoveryServiceImpl) recordToSession(r *secondary.RecoverySessionRecord, steps []*secondary.RecoveryStepRecord) *primary.RecoverySession {
	session := &primary.RecoverySession{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		StopID:      r.StopID,
		Status:      r.Status,
		CurrentStep: r.CurrentStep,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, step := range steps {
		out := &primary.RecoveryStep{
			Seq:         step.Seq,
			Description: step.Description,
			Action:      step.Action,
			Approval:    step.Approval,
			State:       step.State,
			ApprovedBy:  step.ApprovedBy,
		}
		if step.ExecutedAt != nil {
			out.ExecutedAt = step.ExecutedAt.UTC().Format(time.RFC3339)
		}
		session.Steps = append(session.Steps, out)
	}
	return session
}

// Ensure RecoveryServiceImpl implements the interface
var _ primary.RecoveryService = (*RecoveryServiceImpl)(nil)
