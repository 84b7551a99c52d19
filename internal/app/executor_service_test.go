package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/warden/internal/core/risk"
	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

type executorFixture struct {
	svc       *ExecutorServiceImpl
	gate      *ApprovalGateServiceImpl
	budget    *BudgetServiceImpl
	emergency *EmergencyStopServiceImpl
	approvals *memApprovalLedger
	budgets   *memBudgetLedger
	stops     *memStopRepo
	projects  *memProjectRepo
	notifier  *memNotifier
	waiters   *WaiterRegistry
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		approvals: newMemApprovalLedger(),
		budgets:   newMemBudgetLedger(),
		stops:     newMemStopRepo(),
		projects:  newMemProjectRepo(),
		notifier:  newMemNotifier(),
		waiters:   NewWaiterRegistry(),
	}
	cfg := testConfig()
	riskCfg := risk.DefaultConfig()
	f.gate = NewApprovalGateService(f.approvals, f.stops, f.projects, f.notifier, f.waiters, riskCfg, cfg)
	f.budget = NewBudgetService(f.budgets, f.approvals, f.notifier, cfg)
	f.emergency = NewEmergencyStopService(f.stops, f.approvals, f.projects, f.notifier, memLogWriter{}, f.waiters, cfg)
	f.svc = NewExecutorService(f.gate, f.budget, f.emergency, riskCfg)

	err := f.projects.Create(context.Background(), &secondary.ProjectRecord{
		ID:     "PRJ-001",
		Name:   "test-project",
		Status: secondary.ProjectStatusActive,
	})
	require.NoError(t, err)
	return f
}

func safeTask() primary.Task {
	return primary.Task{
		ID:           "TASK-001",
		ProjectID:    "PRJ-001",
		AgentType:    primary.AgentAnalyst,
		Action:       "summarize findings",
		InputSummary: "review of the last sprint",
	}
}

func riskyTask() primary.Task {
	return primary.Task{
		ID:           "TASK-001",
		ProjectID:    "PRJ-001",
		AgentType:    primary.AgentCoder,
		Action:       "modify the schema",
		InputSummary: "add the audit column",
	}
}

func TestBeforeExecuteAutoApprovedPath(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	decision, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)

	require.True(t, decision.Proceed)
	require.Equal(t, primary.OutcomeApproved, decision.Outcome)
	require.NotEmpty(t, decision.ApprovalID)
	require.NotEmpty(t, decision.ReservationID)

	reservation, err := f.budgets.GetReservation(ctx, decision.ReservationID)
	require.NoError(t, err)
	require.Equal(t, secondary.ReservationStateHeld, reservation.State)
}

func TestBeforeExecuteWaitsForHumanApproval(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	done := make(chan *primary.ExecutionDecision, 1)
	go func() {
		decision, err := f.svc.BeforeExecute(ctx, riskyTask())
		if err != nil {
			done <- nil
			return
		}
		done <- decision
	}()

	// Find the pending request and approve it.
	var pendingID string
	require.Eventually(t, func() bool {
		pending, err := f.approvals.List(ctx, secondary.ApprovalFilters{Status: secondary.ApprovalStatusPending})
		if err != nil || len(pending) == 0 {
			return false
		}
		pendingID = pending[0].ID
		return f.waiters.Waiting(pendingID) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.gate.Resolve(ctx, primary.ResolveRequest{
		RequestID: pendingID,
		Approve:   true,
		Resolver:  "alice",
	})
	require.NoError(t, err)

	decision := <-done
	require.NotNil(t, decision)
	require.True(t, decision.Proceed)
	require.Equal(t, pendingID, decision.ApprovalID)
}

func TestBeforeExecuteRejectionReleasesReservation(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	done := make(chan *primary.ExecutionDecision, 1)
	go func() {
		decision, _ := f.svc.BeforeExecute(ctx, riskyTask())
		done <- decision
	}()

	var pendingID string
	require.Eventually(t, func() bool {
		pending, err := f.approvals.List(ctx, secondary.ApprovalFilters{Status: secondary.ApprovalStatusPending})
		if err != nil || len(pending) == 0 {
			return false
		}
		pendingID = pending[0].ID
		return f.waiters.Waiting(pendingID) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.gate.Resolve(ctx, primary.ResolveRequest{
		RequestID: pendingID,
		Approve:   false,
		Resolver:  "alice",
		Comment:   "not now",
	})
	require.NoError(t, err)

	decision := <-done
	require.NotNil(t, decision)
	require.False(t, decision.Proceed)
	require.Equal(t, primary.OutcomeRejected, decision.Outcome)

	// The held reservation was refunded.
	counters, err := f.budgets.ListByProject(ctx, "PRJ-001")
	require.NoError(t, err)
	require.Equal(t, int64(0), counters[0].TokensReserved)

	// A plain write-operation flag is not a security category; refusing it
	// does not halt the project.
	halted, err := f.emergency.IsHalted(ctx, "PRJ-001")
	require.NoError(t, err)
	require.False(t, halted)
}

func TestBeforeExecuteSecurityRejectionTripsStop(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	// Both a destructive command and a credential mention, so the request
	// carries security-category flags.
	task := primary.Task{
		ID:           "TASK-001",
		ProjectID:    "PRJ-001",
		AgentType:    primary.AgentCoder,
		Action:       "rm -rf the stale build cache",
		InputSummary: "clear the token store before the rebuild",
	}

	done := make(chan *primary.ExecutionDecision, 1)
	go func() {
		decision, _ := f.svc.BeforeExecute(ctx, task)
		done <- decision
	}()

	var pendingID string
	require.Eventually(t, func() bool {
		pending, err := f.approvals.List(ctx, secondary.ApprovalFilters{Status: secondary.ApprovalStatusPending})
		if err != nil || len(pending) == 0 {
			return false
		}
		pendingID = pending[0].ID
		return f.waiters.Waiting(pendingID) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.gate.Resolve(ctx, primary.ResolveRequest{
		RequestID: pendingID,
		Approve:   false,
		Resolver:  "alice",
		Comment:   "absolutely not",
	})
	require.NoError(t, err)

	decision := <-done
	require.NotNil(t, decision)
	require.False(t, decision.Proceed)

	// Refusing a security-flagged request is a stop condition, not just a
	// refused task.
	halted, err := f.emergency.IsHalted(ctx, "PRJ-001")
	require.NoError(t, err)
	require.True(t, halted)

	stop, err := f.emergency.ActiveStop(ctx, "PRJ-001")
	require.NoError(t, err)
	require.NotNil(t, stop)
	require.Contains(t, stop.Conditions, primary.ConditionSecurityThreat)
	require.Equal(t, primary.SeverityCritical, stop.Severity)
}

func TestBeforeExecuteRefusedWhenHalted(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	_, err := f.emergency.Trigger(ctx, primary.TriggerRequest{
		ProjectID:  "PRJ-001",
		Conditions: []string{primary.ConditionManualStop},
		Reason:     "drill",
	})
	require.NoError(t, err)

	decision, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.False(t, decision.Proceed)
	require.Equal(t, primary.ReasonEmergencyStop, decision.Reason)
}

func TestBeforeExecuteBudgetOverridePath(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	// Session limit below any estimate forces the override path.
	require.NoError(t, f.budget.SetLimits(ctx, "PRJ-001", primary.AgentAnalyst, 100000, 25_000_000, 100))

	decision, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.False(t, decision.Proceed)
	require.NotEmpty(t, decision.ApprovalID)

	override, err := f.approvals.GetByID(ctx, decision.ApprovalID)
	require.NoError(t, err)
	require.Equal(t, secondary.ApprovalKindBudgetOverride, override.Kind)
}

func TestBeforeExecuteBudgetEmergencyTriggersStop(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	// A tiny daily limit puts the estimate far past the emergency multiple.
	require.NoError(t, f.budget.SetLimits(ctx, "PRJ-001", primary.AgentAnalyst, 100, 25_000_000, 0))

	decision, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.False(t, decision.Proceed)

	halted, err := f.emergency.IsHalted(ctx, "PRJ-001")
	require.NoError(t, err)
	require.True(t, halted)
}

func TestAfterExecuteCommitsOnApproval(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	before, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.True(t, before.Proceed)

	after, err := f.svc.AfterExecute(ctx, safeTask(), primary.TaskResult{
		Summary:          "sprint report drafted",
		ActualTokens:     1800,
		ActualCostMicros: 5400,
	})
	require.NoError(t, err)
	require.True(t, after.Proceed)

	reservation, err := f.budgets.GetReservation(ctx, before.ReservationID)
	require.NoError(t, err)
	require.Equal(t, secondary.ReservationStateCommitted, reservation.State)

	counters, err := f.budgets.ListByProject(ctx, "PRJ-001")
	require.NoError(t, err)
	require.Equal(t, int64(1800), counters[0].TokensUsed)
	require.Equal(t, int64(0), counters[0].TokensReserved)
}

func TestAfterExecuteReleasesOnFailure(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	before, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.True(t, before.Proceed)

	after, err := f.svc.AfterExecute(ctx, safeTask(), primary.TaskResult{
		Summary: "crashed",
		Failed:  true,
	})
	require.NoError(t, err)
	require.False(t, after.Proceed)

	reservation, err := f.budgets.GetReservation(ctx, before.ReservationID)
	require.NoError(t, err)
	require.Equal(t, secondary.ReservationStateReleased, reservation.State)
}

func TestAfterExecuteRiskyResponseWaitsAndReleasesOnReject(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	before, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.True(t, before.Proceed)

	done := make(chan *primary.ExecutionDecision, 1)
	go func() {
		after, _ := f.svc.AfterExecute(ctx, safeTask(), primary.TaskResult{
			Summary:      "stored the api key in the deploy script",
			ActualTokens: 1800,
		})
		done <- after
	}()

	var pendingID string
	require.Eventually(t, func() bool {
		pending, err := f.approvals.List(ctx, secondary.ApprovalFilters{
			Status: secondary.ApprovalStatusPending,
			Kind:   secondary.ApprovalKindResponse,
		})
		if err != nil || len(pending) == 0 {
			return false
		}
		pendingID = pending[0].ID
		return f.waiters.Waiting(pendingID) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.gate.Resolve(ctx, primary.ResolveRequest{
		RequestID: pendingID,
		Approve:   false,
		Resolver:  "alice",
		Comment:   "leaked a secret",
	})
	require.NoError(t, err)

	after := <-done
	require.NotNil(t, after)
	require.False(t, after.Proceed)

	reservation, err := f.budgets.GetReservation(ctx, before.ReservationID)
	require.NoError(t, err)
	require.Equal(t, secondary.ReservationStateReleased, reservation.State)

	// The response leaked a credential and a human refused it, so the
	// project halts on the security-threat condition.
	stop, err := f.emergency.ActiveStop(ctx, "PRJ-001")
	require.NoError(t, err)
	require.NotNil(t, stop)
	require.Contains(t, stop.Conditions, primary.ConditionSecurityThreat)
}

func TestAfterExecuteWithoutBeforeExecute(t *testing.T) {
	f := newExecutorFixture(t)

	_, err := f.svc.AfterExecute(context.Background(), safeTask(), primary.TaskResult{Summary: "done"})
	require.ErrorContains(t, err, "no in-flight state")
}

func TestRepeatedFailuresTripTheErrorRateStop(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	// Drive ten failing tasks through both hooks; the window fills and the
	// error-rate condition halts the project.
	for i := 0; i < 10; i++ {
		task := safeTask()
		task.ID = taskID(i)

		before, err := f.svc.BeforeExecute(ctx, task)
		require.NoError(t, err)
		require.True(t, before.Proceed)

		_, err = f.svc.AfterExecute(ctx, task, primary.TaskResult{Summary: "crashed", Failed: true})
		require.NoError(t, err)
	}

	halted, err := f.emergency.IsHalted(ctx, "PRJ-001")
	require.NoError(t, err)
	require.True(t, halted)

	// The next task is refused outright.
	decision, err := f.svc.BeforeExecute(ctx, safeTask())
	require.NoError(t, err)
	require.False(t, decision.Proceed)
}

func taskID(i int) string {
	return "TASK-" + string(rune('A'+i))
}
