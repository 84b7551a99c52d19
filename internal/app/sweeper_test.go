package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/ports/secondary"
)

func TestSweeperExpiresOverdueRequests(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, f.approvals.Create(ctx, &secondary.ApprovalRecord{
		ID:        "APR-100",
		ProjectID: "PRJ-001",
		TaskID:    "TASK-100",
		AgentType: primary.AgentCoder,
		Kind:      secondary.ApprovalKindPreExecution,
		Action:    "deploy to staging",
		Status:    secondary.ApprovalStatusPending,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	}))

	budgets := newMemBudgetLedger()
	budgetSvc := NewBudgetService(budgets, f.approvals, f.notifier, testConfig())

	var buf bytes.Buffer
	sweeper := NewSweeper(f.svc, budgetSvc, 10*time.Millisecond, &buf)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- sweeper.Run(runCtx)
	}()

	require.Eventually(t, func() bool {
		record, err := f.approvals.GetByID(ctx, "APR-100")
		return err == nil && record.Status == secondary.ApprovalStatusExpired
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Contains(t, buf.String(), "expired 1 overdue approval request(s)")
}

func TestSweeperResetsDueCounters(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	budgets := newMemBudgetLedger()
	budgetSvc := NewBudgetService(budgets, f.approvals, f.notifier, testConfig())

	// A counter last reset two days ago with spent budget.
	counter, err := budgets.GetOrCreate(ctx, "PRJ-001", primary.AgentCoder, secondary.BudgetDefaults{
		DailyTokenLimit:      10000,
		DailyCostLimitMicros: 25_000_000,
	})
	require.NoError(t, err)
	budgets.mu.Lock()
	stored := budgets.counters[counterKey(counter.ProjectID, counter.AgentType)]
	stored.TokensUsed = 4000
	stored.LastResetAt = time.Now().UTC().Add(-48 * time.Hour)
	budgets.mu.Unlock()

	sweeper := NewSweeper(f.svc, budgetSvc, time.Minute, nil)
	sweeper.SweepOnce(ctx)

	after, err := budgets.ListByProject(ctx, "PRJ-001")
	require.NoError(t, err)
	require.Equal(t, int64(0), after[0].TokensUsed)
}
