package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/core/budget"
	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

// BudgetServiceImpl implements the BudgetService interface. The conditional
// SQL reserve is the authority on headroom; this service interprets a refusal
// (override request or emergency) and manages the override path.
type BudgetServiceImpl struct {
	budgetRepo   secondary.BudgetLedger
	approvalRepo secondary.ApprovalLedger
	notifier     secondary.Notifier
	cfg          *config.Config
}

// NewBudgetService creates a new BudgetService with injected dependencies.
func NewBudgetService(
	budgetRepo secondary.BudgetLedger,
	approvalRepo secondary.ApprovalLedger,
	notifier secondary.Notifier,
	cfg *config.Config,
) *BudgetServiceImpl {
	return &BudgetServiceImpl{
		budgetRepo:   budgetRepo,
		approvalRepo: approvalRepo,
		notifier:     notifier,
		cfg:          cfg,
	}
}

// CheckAndReserve counts the estimate against the counter at decision time.
// A refused reservation changes nothing; the decision tells the caller which
// path applies.
func (s *BudgetServiceImpl) CheckAndReserve(ctx context.Context, req primary.ReserveRequest) (*primary.BudgetDecision, error) {
	counter, err := s.budgetRepo.GetOrCreate(ctx, req.ProjectID, req.AgentType, s.defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to load budget counter: %w", err)
	}

	if counter.EmergencyTriggered {
		return &primary.BudgetDecision{
			Code:   primary.DecisionEmergency,
			Reason: "budget emergency already triggered for this counter",
		}, nil
	}

	if counter.SessionTokenLimit > 0 && req.EstimatedTokens > counter.SessionTokenLimit {
		return s.requireOverride(ctx, req,
			fmt.Sprintf("estimated %d tokens exceeds the per-invocation limit of %d",
				req.EstimatedTokens, counter.SessionTokenLimit))
	}

	reservation, err := s.tryReserve(ctx, req)
	if err == nil {
		return &primary.BudgetDecision{
			Code:          primary.DecisionOK,
			ReservationID: reservation.ID,
		}, nil
	}
	if !errors.Is(err, secondary.ErrInsufficientBudget) {
		return nil, err
	}

	// The SQL reserve refused. Classify on a fresh snapshot to pick the
	// override vs emergency path.
	counter, err = s.budgetRepo.GetOrCreate(ctx, req.ProjectID, req.AgentType, s.defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to reload budget counter: %w", err)
	}

	switch budget.Classify(snapshotFrom(counter), req.EstimatedTokens, req.EstimatedCostMicros) {
	case budget.Emergency:
		if err := s.budgetRepo.SetEmergencyTriggered(ctx, req.ProjectID, req.AgentType, true); err != nil {
			return nil, fmt.Errorf("failed to mark budget emergency: %w", err)
		}
		return &primary.BudgetDecision{
			Code: primary.DecisionEmergency,
			Reason: fmt.Sprintf("potential usage would exceed 150%% of the daily limit for %s/%s",
				req.ProjectID, req.AgentType),
		}, nil

	case budget.OK:
		// A concurrent commit or reset freed headroom between the refusal
		// and the snapshot. One retry; a second refusal takes the override
		// path.
		if reservation, err := s.tryReserve(ctx, req); err == nil {
			return &primary.BudgetDecision{
				Code:          primary.DecisionOK,
				ReservationID: reservation.ID,
			}, nil
		} else if !errors.Is(err, secondary.ErrInsufficientBudget) {
			return nil, err
		}
		fallthrough

	default:
		return s.requireOverride(ctx, req,
			fmt.Sprintf("daily budget for %s/%s exhausted", req.ProjectID, req.AgentType))
	}
}

// Commit finalizes a held reservation with actual usage.
func (s *BudgetServiceImpl) Commit(ctx context.Context, reservationID string, actualTokens, actualCostMicros int64) error {
	if err := s.budgetRepo.CommitReservation(ctx, reservationID, actualTokens, actualCostMicros); err != nil {
		return fmt.Errorf("failed to commit reservation %s: %w", reservationID, err)
	}
	return nil
}

// Release refunds a held reservation in full.
func (s *BudgetServiceImpl) Release(ctx context.Context, reservationID string) error {
	if err := s.budgetRepo.ReleaseReservation(ctx, reservationID); err != nil {
		return fmt.Errorf("failed to release reservation %s: %w", reservationID, err)
	}
	return nil
}

// ApplyOverride grants the headroom approved by a budget-override request.
// Calling it again for the same request grants nothing further: the
// shortfall is computed against headroom already present.
func (s *BudgetServiceImpl) ApplyOverride(ctx context.Context, overrideRequestID string) error {
	record, err := s.approvalRepo.GetByID(ctx, overrideRequestID)
	if err != nil {
		return err
	}
	if record.Kind != secondary.ApprovalKindBudgetOverride {
		return fmt.Errorf("request %s is not a budget override (kind: %s)", overrideRequestID, record.Kind)
	}
	switch record.Status {
	case secondary.ApprovalStatusApproved:
	case secondary.ApprovalStatusPending:
		return fmt.Errorf("override request %s has not been approved yet", overrideRequestID)
	default:
		return fmt.Errorf("override request %s was %s", overrideRequestID, record.Status)
	}

	counter, err := s.budgetRepo.GetOrCreate(ctx, record.ProjectID, record.AgentType, s.defaults())
	if err != nil {
		return fmt.Errorf("failed to load budget counter: %w", err)
	}

	tokens, costMicros := budget.OverrideShortfall(snapshotFrom(counter),
		record.EstimatedTokens, record.EstimatedCostMicros)
	if tokens == 0 && costMicros == 0 {
		return nil
	}

	if err := s.budgetRepo.GrantOverride(ctx, record.ProjectID, record.AgentType, tokens, costMicros); err != nil {
		return fmt.Errorf("failed to grant override: %w", err)
	}

	_ = s.notifier.NotifyAlert(ctx, secondary.SafetyAlertEvent{
		Severity:  secondary.SeverityWarning,
		ProjectID: record.ProjectID,
		Message: fmt.Sprintf("budget override granted for %s: +%d tokens, +$%.4f",
			record.AgentType, tokens, float64(costMicros)/1e6),
	})
	return nil
}

// GetCounters retrieves the budget counters for a project.
func (s *BudgetServiceImpl) GetCounters(ctx context.Context, projectID string) ([]*primary.BudgetCounter, error) {
	records, err := s.budgetRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget counters: %w", err)
	}

	counters := make([]*primary.BudgetCounter, len(records))
	for i, r := range records {
		counters[i] = &primary.BudgetCounter{
			ProjectID:            r.ProjectID,
			AgentType:            r.AgentType,
			DailyTokenLimit:      r.DailyTokenLimit,
			DailyCostLimitMicros: r.DailyCostLimitMicros,
			SessionTokenLimit:    r.SessionTokenLimit,
			TokensUsed:           r.TokensUsed,
			CostUsedMicros:       r.CostUsedMicros,
			TokensReserved:       r.TokensReserved,
			CostReservedMicros:   r.CostReservedMicros,
			OverrideTokens:       r.OverrideTokens,
			OverrideCostMicros:   r.OverrideCostMicros,
			EmergencyTriggered:   r.EmergencyTriggered,
			LastResetAt:          r.LastResetAt.UTC().Format(time.RFC3339),
		}
	}
	return counters, nil
}

// SetLimits replaces the configured limits for a (project, agent) counter.
func (s *BudgetServiceImpl) SetLimits(ctx context.Context, projectID, agentType string, dailyTokens, dailyCostMicros, sessionTokens int64) error {
	if _, err := s.budgetRepo.GetOrCreate(ctx, projectID, agentType, s.defaults()); err != nil {
		return fmt.Errorf("failed to load budget counter: %w", err)
	}
	if err := s.budgetRepo.SetLimits(ctx, projectID, agentType, dailyTokens, dailyCostMicros, sessionTokens); err != nil {
		return fmt.Errorf("failed to set limits: %w", err)
	}
	return nil
}

// ResetDueCounters applies the daily reset boundary.
func (s *BudgetServiceImpl) ResetDueCounters(ctx context.Context) (int, error) {
	return s.budgetRepo.ResetDue(ctx, time.Now().UTC(), s.cfg.BudgetResetMode)
}

// Helper methods

func (s *BudgetServiceImpl) tryReserve(ctx context.Context, req primary.ReserveRequest) (*secondary.ReservationRecord, error) {
	// Concurrent reservations can race the MAX-scan ID allocation. The
	// losing insert rolls back without touching the counter, so re-allocate
	// with a short backoff and try again.
	for attempt := 0; ; attempt++ {
		id, err := s.budgetRepo.GetNextReservationID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate reservation ID: %w", err)
		}
		reservation := &secondary.ReservationRecord{
			ID:         id,
			ProjectID:  req.ProjectID,
			AgentType:  req.AgentType,
			Tokens:     req.EstimatedTokens,
			CostMicros: req.EstimatedCostMicros,
		}
		err = s.budgetRepo.Reserve(ctx, reservation)
		if err == nil {
			return reservation, nil
		}
		if !errors.Is(err, secondary.ErrDuplicate) || attempt >= idAllocRetries {
			return nil, err
		}
		time.Sleep(time.Duration(attempt+1) * 2 * time.Millisecond)
	}
}

// requireOverride creates (or reuses the pending) budget-override approval
// request for the task. The human resolves it through the normal gate; the
// caller then applies the override and reserves again.
func (s *BudgetServiceImpl) requireOverride(ctx context.Context, req primary.ReserveRequest, reason string) (*primary.BudgetDecision, error) {
	now := time.Now().UTC()
	var record *secondary.ApprovalRecord
	for attempt := 0; ; attempt++ {
		id, err := s.approvalRepo.GetNextID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate approval ID: %w", err)
		}
		record = &secondary.ApprovalRecord{
			ID:        id,
			ProjectID: req.ProjectID,
			TaskID:    req.TaskID,
			AgentType: req.AgentType,
			Kind:      secondary.ApprovalKindBudgetOverride,
			Action: fmt.Sprintf("grant budget override for %s/%s (+%d tokens, +$%.4f)",
				req.ProjectID, req.AgentType, req.EstimatedTokens, float64(req.EstimatedCostMicros)/1e6),
			InputSummary:        reason,
			EstimatedTokens:     req.EstimatedTokens,
			EstimatedCostMicros: req.EstimatedCostMicros,
			Status:              secondary.ApprovalStatusPending,
			Reason:              reason,
			CreatedAt:           now,
			ExpiresAt:           now.Add(s.cfg.PreExecutionTimeout()),
		}

		err = s.approvalRepo.Create(ctx, record)
		if err == nil {
			break
		}
		if errors.Is(err, secondary.ErrDuplicate) {
			existing, getErr := s.approvalRepo.GetPendingByTaskKind(ctx, req.TaskID, secondary.ApprovalKindBudgetOverride)
			if getErr == nil {
				return &primary.BudgetDecision{
					Code:              primary.DecisionRequiresOverride,
					OverrideRequestID: existing.ID,
					Reason:            reason,
				}, nil
			}
			// The duplicate was the allocated ID, not a live override
			// request; re-allocate and try again.
			if errors.Is(getErr, secondary.ErrNotFound) && attempt < idAllocRetries {
				continue
			}
			return nil, fmt.Errorf("duplicate override request but pending record not found: %w", getErr)
		}
		return nil, fmt.Errorf("failed to record override request: %w", err)
	}

	_ = s.notifier.NotifyApprovalRequested(ctx, secondary.ApprovalRequestedEvent{
		RequestID:           record.ID,
		ProjectID:           record.ProjectID,
		Kind:                record.Kind,
		Summary:             record.Action,
		EstimatedCostMicros: record.EstimatedCostMicros,
		ExpiresAt:           record.ExpiresAt,
	})

	return &primary.BudgetDecision{
		Code:              primary.DecisionRequiresOverride,
		OverrideRequestID: record.ID,
		Reason:            reason,
	}, nil
}

func (s *BudgetServiceImpl) defaults() secondary.BudgetDefaults {
	return secondary.BudgetDefaults{
		DailyTokenLimit:      s.cfg.DefaultDailyTokenLimit,
		DailyCostLimitMicros: s.cfg.DefaultDailyCostMicros,
		SessionTokenLimit:    s.cfg.DefaultSessionTokenLimit,
	}
}

func snapshotFrom(c *secondary.BudgetCounterRecord) budget.Snapshot {
	return budget.Snapshot{
		TokenLimit:      c.DailyTokenLimit,
		CostLimitMicros: c.DailyCostLimitMicros,
		TokensUsed:      c.TokensUsed,
		CostUsedMicros:  c.CostUsedMicros,
		TokensReserved:  c.TokensReserved,
		CostReserved:    c.CostReservedMicros,
		OverrideTokens:  c.OverrideTokens,
		OverrideCost:    c.OverrideCostMicros,
	}
}

// Ensure BudgetServiceImpl implements the interface
var _ primary.BudgetService = (*BudgetServiceImpl)(nil)
