package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/core/approval"
	"github.com/example/warden/internal/core/risk"
	"github.com/example/warden/internal/ctxutil"
	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

// Resolver identities recorded on non-human resolutions.
const (
	autoResolver   = "auto-policy"
	systemResolver = "system"
)

// idAllocRetries bounds how many times an insert is retried when the
// MAX-scan ID allocation collides with a concurrent writer.
const idAllocRetries = 5

// ApprovalGateServiceImpl implements the ApprovalGateService interface.
// Every resolution path goes through the ledger's compare-and-swap, so a
// request has exactly one winning outcome no matter how many resolvers race.
type ApprovalGateServiceImpl struct {
	approvalRepo secondary.ApprovalLedger
	stopRepo     secondary.EmergencyStopRepository
	projectRepo  secondary.ProjectRepository
	notifier     secondary.Notifier
	waiters      *WaiterRegistry
	riskCfg      risk.Config
	cfg          *config.Config
}

// NewApprovalGateService creates a new ApprovalGateService with injected dependencies.
func NewApprovalGateService(
	approvalRepo secondary.ApprovalLedger,
	stopRepo secondary.EmergencyStopRepository,
	projectRepo secondary.ProjectRepository,
	notifier secondary.Notifier,
	waiters *WaiterRegistry,
	riskCfg risk.Config,
	cfg *config.Config,
) *ApprovalGateServiceImpl {
	return &ApprovalGateServiceImpl{
		approvalRepo: approvalRepo,
		stopRepo:     stopRepo,
		projectRepo:  projectRepo,
		notifier:     notifier,
		waiters:      waiters,
		riskCfg:      riskCfg,
		cfg:          cfg,
	}
}

// RequestPreExecutionApproval creates (or returns the existing PENDING)
// approval request for a proposed agent invocation.
func (s *ApprovalGateServiceImpl) RequestPreExecutionApproval(ctx context.Context, req primary.PreExecutionRequest) (*primary.Approval, error) {
	if err := s.refuseWhenHalted(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	assessment := risk.Assess(s.riskCfg, req.AgentType, req.Action, req.InputSummary)
	return s.createRequest(ctx, requestParams{
		projectID:    req.ProjectID,
		taskID:       req.TaskID,
		agentType:    req.AgentType,
		kind:         secondary.ApprovalKindPreExecution,
		action:       req.Action,
		inputSummary: req.InputSummary,
		assessment:   assessment,
		timeout:      s.cfg.PreExecutionTimeout(),
	})
}

// RequestResponseApproval gates an agent's produced response.
func (s *ApprovalGateServiceImpl) RequestResponseApproval(ctx context.Context, req primary.ResponseApprovalRequest) (*primary.Approval, error) {
	if err := s.refuseWhenHalted(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	// The response is assessed on its own content: a safe request can still
	// produce a response that touches credentials or destructive commands.
	assessment := risk.Assess(s.riskCfg, req.AgentType, "review response", req.ResponseSummary)
	action := "review response"
	if req.OriginalRequestID != "" {
		action = fmt.Sprintf("review response to %s", req.OriginalRequestID)
	}
	return s.createRequest(ctx, requestParams{
		projectID:    req.ProjectID,
		taskID:       req.TaskID,
		agentType:    req.AgentType,
		kind:         secondary.ApprovalKindResponse,
		action:       action,
		inputSummary: req.ResponseSummary,
		assessment:   assessment,
		timeout:      s.cfg.ResponseTimeout(),
	})
}

type requestParams struct {
	projectID    string
	taskID       string
	agentType    string
	kind         string
	action       string
	inputSummary string
	assessment   risk.Assessment
	timeout      time.Duration
}

func (s *ApprovalGateServiceImpl) createRequest(ctx context.Context, p requestParams) (*primary.Approval, error) {
	if _, err := s.projectRepo.GetByID(ctx, p.projectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", p.projectID, err)
	}

	now := time.Now().UTC()
	var record *secondary.ApprovalRecord
	for attempt := 0; ; attempt++ {
		id, err := s.approvalRepo.GetNextID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate approval ID: %w", err)
		}
		record = &secondary.ApprovalRecord{
			ID:                  id,
			ProjectID:           p.projectID,
			TaskID:              p.taskID,
			AgentType:           p.agentType,
			Kind:                p.kind,
			Action:              p.action,
			InputSummary:        p.inputSummary,
			EstimatedTokens:     p.assessment.EstimatedTokens,
			EstimatedCostMicros: p.assessment.EstimatedCostMicros,
			RiskFlags:           p.assessment.Flags,
			Status:              secondary.ApprovalStatusPending,
			CreatedAt:           now,
			ExpiresAt:           now.Add(p.timeout),
		}

		// Fails closed: if the ledger write fails there is no request record
		// and the caller must not execute.
		err = s.approvalRepo.Create(ctx, record)
		if err == nil {
			break
		}
		if errors.Is(err, secondary.ErrDuplicate) {
			existing, getErr := s.approvalRepo.GetPendingByTaskKind(ctx, p.taskID, p.kind)
			if getErr == nil {
				return s.recordToApproval(existing), nil
			}
			// No live (task, kind) request, so the duplicate was the
			// allocated ID itself; re-allocate and try again.
			if errors.Is(getErr, secondary.ErrNotFound) && attempt < idAllocRetries {
				continue
			}
			return nil, fmt.Errorf("duplicate request but pending record not found: %w", getErr)
		}
		return nil, fmt.Errorf("failed to record approval request: %w", err)
	}

	if !p.assessment.MandatoryApproval {
		return s.autoApprove(ctx, record)
	}

	_ = s.notifier.NotifyApprovalRequested(ctx, secondary.ApprovalRequestedEvent{
		RequestID:           record.ID,
		ProjectID:           record.ProjectID,
		Kind:                record.Kind,
		Summary:             risk.Describe(p.assessment) + ": " + p.action,
		EstimatedCostMicros: record.EstimatedCostMicros,
		ExpiresAt:           record.ExpiresAt,
	})

	return s.recordToApproval(record), nil
}

// autoApprove resolves a flagless request immediately. The record stays in
// the ledger so auto-approvals are auditable like any other outcome.
func (s *ApprovalGateServiceImpl) autoApprove(ctx context.Context, record *secondary.ApprovalRecord) (*primary.Approval, error) {
	err := s.approvalRepo.CompareAndSwapStatus(ctx, record.ID,
		secondary.ApprovalStatusPending, secondary.ApprovalStatusApproved,
		autoResolver, "", "no mandatory risk flags")
	if err != nil && !errors.Is(err, secondary.ErrLostRace) {
		return nil, fmt.Errorf("failed to auto-approve: %w", err)
	}

	resolved, err := s.approvalRepo.GetByID(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	return s.recordToApproval(resolved), nil
}

// AwaitResolution parks the caller on the waiter registry until the request
// is resolved, expires, or the context is cancelled. The ledger is re-read
// after registering so a resolution racing the registration is not missed.
func (s *ApprovalGateServiceImpl) AwaitResolution(ctx context.Context, requestID string, timeout time.Duration) (*primary.Resolution, error) {
	ch, cancel := s.waiters.Register(requestID)
	defer cancel()

	record, err := s.approvalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if approval.IsTerminal(record.Status) {
		return resolutionFromRecord(record), nil
	}

	if timeout <= 0 {
		timeout = time.Until(record.ExpiresAt)
	}
	if timeout <= 0 {
		// Already past expiry; give the sweep one beat to mark it.
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return &res, nil
	case <-timer.C:
		// Win the expiry compare-and-swap ourselves so the reported
		// outcome and the ledger agree; a resolution that landed before
		// the timer fired wins instead.
		err := s.approvalRepo.CompareAndSwapStatus(ctx, requestID,
			secondary.ApprovalStatusPending, secondary.ApprovalStatusExpired,
			systemResolver, "", "timeout")
		if errors.Is(err, secondary.ErrLostRace) {
			record, getErr := s.approvalRepo.GetByID(ctx, requestID)
			if getErr != nil {
				return nil, getErr
			}
			return resolutionFromRecord(record), nil
		}
		if err != nil {
			return nil, err
		}
		resolution := primary.Resolution{
			RequestID: requestID,
			Outcome:   primary.OutcomeExpired,
			Reason:    "timeout",
			Resolver:  systemResolver,
		}
		s.waiters.Notify(requestID, resolution)
		return &resolution, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve records a human decision. Resolving an already resolved request is
// a no-op that reports the winner's outcome.
func (s *ApprovalGateServiceImpl) Resolve(ctx context.Context, req primary.ResolveRequest) (*primary.Resolution, error) {
	record, err := s.approvalRepo.GetByID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if approval.IsTerminal(record.Status) {
		return resolutionFromRecord(record), nil
	}

	resolver := req.Resolver
	if resolver == "" {
		resolver = ctxutil.ActorFromContext(ctx)
	}
	if resolver == "" {
		resolver = "operator"
	}

	to := approval.StatusForVerdict(req.Approve)
	err = s.approvalRepo.CompareAndSwapStatus(ctx, req.RequestID,
		secondary.ApprovalStatusPending, to, resolver, req.Comment, "")
	if errors.Is(err, secondary.ErrLostRace) {
		// Someone else resolved first; report their outcome.
		winner, getErr := s.approvalRepo.GetByID(ctx, req.RequestID)
		if getErr != nil {
			return nil, getErr
		}
		return resolutionFromRecord(winner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval: %w", err)
	}

	resolution := primary.Resolution{
		RequestID: req.RequestID,
		Outcome:   outcomeForStatus(to),
		Resolver:  resolver,
		Comment:   req.Comment,
	}
	s.waiters.Notify(req.RequestID, resolution)

	return &resolution, nil
}

// GetApproval retrieves an approval by ID.
func (s *ApprovalGateServiceImpl) GetApproval(ctx context.Context, requestID string) (*primary.Approval, error) {
	record, err := s.approvalRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.recordToApproval(record), nil
}

// ListApprovals lists approvals with optional filters.
func (s *ApprovalGateServiceImpl) ListApprovals(ctx context.Context, filters primary.ApprovalFilters) ([]*primary.Approval, error) {
	records, err := s.approvalRepo.List(ctx, secondary.ApprovalFilters{
		ProjectID: filters.ProjectID,
		TaskID:    filters.TaskID,
		Status:    filters.Status,
		Kind:      filters.Kind,
		Limit:     filters.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	approvals := make([]*primary.Approval, len(records))
	for i, r := range records {
		approvals[i] = s.recordToApproval(r)
	}
	return approvals, nil
}

// SweepExpired transitions overdue PENDING requests to EXPIRED and wakes
// their waiters. Racing sweeps are harmless: the compare-and-swap lets only
// one win per request.
func (s *ApprovalGateServiceImpl) SweepExpired(ctx context.Context) (int, error) {
	overdue, err := s.approvalRepo.ListOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue approvals: %w", err)
	}

	expired := 0
	for _, record := range overdue {
		err := s.approvalRepo.CompareAndSwapStatus(ctx, record.ID,
			secondary.ApprovalStatusPending, secondary.ApprovalStatusExpired,
			systemResolver, "", "timeout")
		if errors.Is(err, secondary.ErrLostRace) || errors.Is(err, secondary.ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("failed to expire %s: %w", record.ID, err)
		}
		expired++
		s.waiters.Notify(record.ID, primary.Resolution{
			RequestID: record.ID,
			Outcome:   primary.OutcomeExpired,
			Reason:    "timeout",
			Resolver:  systemResolver,
		})
	}
	return expired, nil
}

// Helper methods

func (s *ApprovalGateServiceImpl) recordToApproval(r *secondary.ApprovalRecord) *primary.Approval {
	a := &primary.Approval{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		TaskID:              r.TaskID,
		AgentType:           r.AgentType,
		Kind:                r.Kind,
		Action:              r.Action,
		EstimatedTokens:     r.EstimatedTokens,
		EstimatedCostMicros: r.EstimatedCostMicros,
		RiskFlags:           r.RiskFlags,
		Status:              r.Status,
		Reason:              r.Reason,
		Resolver:            r.Resolver,
		Comment:             r.Comment,
		AutoApproved:        r.Resolver == autoResolver,
		CreatedAt:           r.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:           r.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if r.ResolvedAt != nil {
		a.ResolvedAt = r.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return a
}

func resolutionFromRecord(r *secondary.ApprovalRecord) *primary.Resolution {
	return &primary.Resolution{
		RequestID: r.ID,
		Outcome:   outcomeForStatus(r.Status),
		Reason:    r.Reason,
		Resolver:  r.Resolver,
		Comment:   r.Comment,
	}
}

// outcomeForStatus maps terminal ledger statuses onto waiter outcomes.
// Cancelled requests (emergency stop) surface as REJECTED.
func outcomeForStatus(status string) primary.Outcome {
	switch status {
	case secondary.ApprovalStatusApproved:
		return primary.OutcomeApproved
	case secondary.ApprovalStatusExpired:
		return primary.OutcomeExpired
	default:
		return primary.OutcomeRejected
	}
}

func (s *ApprovalGateServiceImpl) refuseWhenHalted(ctx context.Context, projectID string) error {
	_, err := s.stopRepo.GetActiveByProject(ctx, projectID)
	if errors.Is(err, secondary.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check emergency stop: %w", err)
	}
	return fmt.Errorf("project %s: %w", projectID, primary.ErrProjectHalted)
}

// Ensure ApprovalGateServiceImpl implements the interface
var _ primary.ApprovalGateService = (*ApprovalGateServiceImpl)(nil)
