package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

// EmergencyStopServiceImpl implements the EmergencyStopService interface.
// Trigger attempts every containment step even when one fails: a partial
// halt beats no halt.
type EmergencyStopServiceImpl struct {
	stopRepo     secondary.EmergencyStopRepository
	approvalRepo secondary.ApprovalLedger
	projectRepo  secondary.ProjectRepository
	notifier     secondary.Notifier
	logWriter    secondary.LogWriter
	waiters      *WaiterRegistry
	cfg          *config.Config

	mu      sync.Mutex
	windows map[string]*attemptWindow
}

// NewEmergencyStopService creates a new EmergencyStopService with injected dependencies.
func NewEmergencyStopService(
	stopRepo secondary.EmergencyStopRepository,
	approvalRepo secondary.ApprovalLedger,
	projectRepo secondary.ProjectRepository,
	notifier secondary.Notifier,
	logWriter secondary.LogWriter,
	waiters *WaiterRegistry,
	cfg *config.Config,
) *EmergencyStopServiceImpl {
	return &EmergencyStopServiceImpl{
		stopRepo:     stopRepo,
		approvalRepo: approvalRepo,
		projectRepo:  projectRepo,
		notifier:     notifier,
		logWriter:    logWriter,
		waiters:      waiters,
		cfg:          cfg,
		windows:      make(map[string]*attemptWindow),
	}
}

// attemptWindow is a fixed-size ring of recent attempt outcomes.
type attemptWindow struct {
	outcomes []bool // true = failed
	next     int
	filled   bool
}

func newAttemptWindow(size int) *attemptWindow {
	return &attemptWindow{outcomes: make([]bool, size)}
}

func (w *attemptWindow) record(failed bool) {
	w.outcomes[w.next] = failed
	w.next = (w.next + 1) % len(w.outcomes)
	if w.next == 0 {
		w.filled = true
	}
}

// tripped reports whether the failure ratio exceeds ratePercent. Only a full
// window can trip; a single early failure must not halt a project.
func (w *attemptWindow) tripped(ratePercent int) bool {
	if !w.filled {
		return false
	}
	failures := 0
	for _, failed := range w.outcomes {
		if failed {
			failures++
		}
	}
	return failures*100 > len(w.outcomes)*ratePercent
}

// Trigger halts a project. Steps: mark halted, cancel pending approvals and
// wake waiters, write the stop record, alert. All four are attempted; errors
// are collected rather than short-circuiting.
func (s *EmergencyStopServiceImpl) Trigger(ctx context.Context, req primary.TriggerRequest) (*primary.EmergencyStop, error) {
	// An already halted project keeps its first stop record.
	if existing, err := s.stopRepo.GetActiveByProject(ctx, req.ProjectID); err == nil {
		return s.recordToStop(existing), nil
	} else if !errors.Is(err, secondary.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active stop: %w", err)
	}

	severity := req.Severity
	if severity == "" {
		severity = primary.SeverityCritical
	}

	var stepErrs []error

	if err := s.projectRepo.SetStatus(ctx, req.ProjectID, secondary.ProjectStatusHalted); err != nil {
		stepErrs = append(stepErrs, fmt.Errorf("halt project: %w", err))
	}

	affected, err := s.cancelPending(ctx, req.ProjectID)
	if err != nil {
		stepErrs = append(stepErrs, fmt.Errorf("cancel pending approvals: %w", err))
	}

	var stop *secondary.EmergencyStopRecord
	id, err := s.stopRepo.GetNextID(ctx)
	if err != nil {
		stepErrs = append(stepErrs, fmt.Errorf("allocate stop ID: %w", err))
	} else {
		stop = &secondary.EmergencyStopRecord{
			ID:            id,
			ProjectID:     req.ProjectID,
			Conditions:    req.Conditions,
			Severity:      severity,
			Reason:        req.Reason,
			AffectedTasks: affected,
		}
		if err := s.stopRepo.Create(ctx, stop); err != nil {
			stepErrs = append(stepErrs, fmt.Errorf("write stop record: %w", err))
			stop = nil
		}
	}

	if err := s.notifier.NotifyAlert(ctx, secondary.SafetyAlertEvent{
		Severity:  severity,
		ProjectID: req.ProjectID,
		Message:   fmt.Sprintf("EMERGENCY STOP: %s (conditions: %v)", req.Reason, req.Conditions),
	}); err != nil {
		stepErrs = append(stepErrs, fmt.Errorf("emit alert: %w", err))
	}

	if s.logWriter != nil {
		_ = s.logWriter.LogEvent(ctx, "project", req.ProjectID,
			fmt.Sprintf("emergency stop triggered: %s", req.Reason))
	}

	if stop == nil {
		return nil, errors.Join(stepErrs...)
	}
	return s.recordToStop(stop), errors.Join(stepErrs...)
}

// cancelPending cancels every PENDING approval of the project and wakes its
// waiters with reason "emergency-stop". Returns the affected task IDs.
func (s *EmergencyStopServiceImpl) cancelPending(ctx context.Context, projectID string) ([]string, error) {
	pending, err := s.approvalRepo.List(ctx, secondary.ApprovalFilters{
		ProjectID: projectID,
		Status:    secondary.ApprovalStatusPending,
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	affected := make([]string, 0, len(pending))
	for _, record := range pending {
		err := s.approvalRepo.CompareAndSwapStatus(ctx, record.ID,
			secondary.ApprovalStatusPending, secondary.ApprovalStatusCancelled,
			systemResolver, "", primary.ReasonEmergencyStop)
		if errors.Is(err, secondary.ErrLostRace) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", record.ID, err))
			continue
		}
		affected = append(affected, record.TaskID)
		s.waiters.Notify(record.ID, primary.Resolution{
			RequestID: record.ID,
			Outcome:   primary.OutcomeRejected,
			Reason:    primary.ReasonEmergencyStop,
			Resolver:  systemResolver,
		})
	}
	return affected, errors.Join(errs...)
}

// RecordAttempt feeds the sliding error-rate window and trips the error-rate
// condition when the failure ratio is exceeded.
func (s *EmergencyStopServiceImpl) RecordAttempt(ctx context.Context, projectID string, failed bool) error {
	s.mu.Lock()
	window, ok := s.windows[projectID]
	if !ok {
		window = newAttemptWindow(s.cfg.ErrorWindowSize)
		s.windows[projectID] = window
	}
	window.record(failed)
	tripped := window.tripped(s.cfg.ErrorRatePercent)
	s.mu.Unlock()

	if !tripped {
		return nil
	}

	halted, err := s.IsHalted(ctx, projectID)
	if err != nil || halted {
		return err
	}

	_, err = s.Trigger(ctx, primary.TriggerRequest{
		ProjectID:  projectID,
		Conditions: []string{primary.ConditionErrorRate},
		Severity:   primary.SeverityCritical,
		Reason: fmt.Sprintf("more than %d%% of the last %d attempts failed",
			s.cfg.ErrorRatePercent, s.cfg.ErrorWindowSize),
	})
	return err
}

// IsHalted reports whether the project has an unresolved emergency stop.
func (s *EmergencyStopServiceImpl) IsHalted(ctx context.Context, projectID string) (bool, error) {
	_, err := s.stopRepo.GetActiveByProject(ctx, projectID)
	if errors.Is(err, secondary.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check emergency stop: %w", err)
	}
	return true, nil
}

// ActiveStop retrieves the unresolved stop record for a project, or nil.
func (s *EmergencyStopServiceImpl) ActiveStop(ctx context.Context, projectID string) (*primary.EmergencyStop, error) {
	record, err := s.stopRepo.GetActiveByProject(ctx, projectID)
	if errors.Is(err, secondary.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.recordToStop(record), nil
}

// ListStops retrieves stop history for a project, newest first.
func (s *EmergencyStopServiceImpl) ListStops(ctx context.Context, projectID string) ([]*primary.EmergencyStop, error) {
	records, err := s.stopRepo.List(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency stops: %w", err)
	}
	stops := make([]*primary.EmergencyStop, len(records))
	for i, r := range records {
		stops[i] = s.recordToStop(r)
	}
	return stops, nil
}

// Clear is the administrative last-resort path that resolves an active stop
// without a completed recovery session.
func (s *EmergencyStopServiceImpl) Clear(ctx context.Context, projectID string, force bool) error {
	if !force {
		return fmt.Errorf("clearing an emergency stop without recovery requires --force")
	}

	record, err := s.stopRepo.GetActiveByProject(ctx, projectID)
	if errors.Is(err, secondary.ErrNotFound) {
		return fmt.Errorf("project %s has no active emergency stop", projectID)
	}
	if err != nil {
		return err
	}

	if err := s.stopRepo.Resolve(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to resolve stop %s: %w", record.ID, err)
	}
	if err := s.projectRepo.SetStatus(ctx, projectID, secondary.ProjectStatusActive); err != nil {
		return fmt.Errorf("failed to re-arm project: %w", err)
	}

	s.mu.Lock()
	delete(s.windows, projectID)
	s.mu.Unlock()

	if s.logWriter != nil {
		_ = s.logWriter.LogEvent(ctx, "project", projectID, "emergency stop force-cleared")
	}
	return nil
}

// Helper methods

func (s *EmergencyStopServiceImpl) recordToStop(r *secondary.EmergencyStopRecord) *primary.EmergencyStop {
	stop := &primary.EmergencyStop{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		Conditions:    r.Conditions,
		Severity:      r.Severity,
		Reason:        r.Reason,
		AffectedTasks: r.AffectedTasks,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.ResolvedAt != nil {
		stop.ResolvedAt = r.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return stop
}

// Ensure EmergencyStopServiceImpl implements the interface
var _ primary.EmergencyStopService = (*EmergencyStopServiceImpl)(nil)
