package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/example/warden/internal/ports/primary"
)

// Sweeper is the background maintenance loop. Each tick expires overdue
// approval requests and applies due daily budget resets.
type Sweeper struct {
	gate     primary.ApprovalGateService
	budget   primary.BudgetService
	interval time.Duration
	out      io.Writer
}

// NewSweeper creates a sweeper ticking at the given interval.
func NewSweeper(gate primary.ApprovalGateService, budget primary.BudgetService, interval time.Duration, out io.Writer) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{gate: gate, budget: budget, interval: interval, out: out}
}

// Run blocks until the context is cancelled. A sweep error is reported and
// the loop keeps ticking; a broken sweep must not take the daemon down.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single maintenance pass. Exposed for the doctor command.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	s.sweepOnce(ctx)
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.gate.SweepExpired(ctx)
	if err != nil {
		s.report("approval sweep failed: %v", err)
	} else if expired > 0 {
		s.report("expired %d overdue approval request(s)", expired)
	}

	reset, err := s.budget.ResetDueCounters(ctx)
	if err != nil {
		s.report("budget reset failed: %v", err)
	} else if reset > 0 {
		s.report("reset %d budget counter(s)", reset)
	}
}

func (s *Sweeper) report(format string, args ...interface{}) {
	if s.out == nil {
		return
	}
	fmt.Fprintf(s.out, "[sweep] %s %s\n",
		time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}
