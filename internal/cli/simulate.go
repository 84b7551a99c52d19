package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/wire"
)

// SimulateCmd returns the simulate command. It drives a synthetic task
// through both executor hooks so the gate, budget and stop paths can be
// exercised without a real scheduler attached.
func SimulateCmd() *cobra.Command {
	var (
		agentType string
		action    string
		input     string
		summary   string
		tokens    int64
		cost      int64
		fail      bool
	)

	cmd := &cobra.Command{
		Use:   "simulate [project-id] [task-id]",
		Short: "Drive a synthetic task through the executor hooks",
		Long: `Run one task through BeforeExecute and AfterExecute. Flagged actions
park on the approval gate until resolved from another terminal.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := NewContext()
			task := primary.Task{
				ID:           args[1],
				ProjectID:    args[0],
				AgentType:    agentType,
				Action:       action,
				InputSummary: input,
			}

			fmt.Printf("BeforeExecute %s (%s: %s)\n", task.ID, task.AgentType, task.Action)
			before, err := wire.ExecutorHooks().BeforeExecute(ctx, task)
			if err != nil {
				return err
			}
			printDecision("before", before)
			if !before.Proceed {
				return nil
			}

			fmt.Printf("AfterExecute %s (failed=%v)\n", task.ID, fail)
			after, err := wire.ExecutorHooks().AfterExecute(ctx, task, primary.TaskResult{
				Summary:          summary,
				ActualTokens:     tokens,
				ActualCostMicros: cost,
				Failed:           fail,
			})
			if err != nil {
				return err
			}
			printDecision("after", after)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentType, "agent", primary.AgentCoder, "Agent type (analyst|architect|coder|tester|deployer)")
	cmd.Flags().StringVar(&action, "action", "summarize findings", "Proposed action")
	cmd.Flags().StringVar(&input, "input", "", "Input summary")
	cmd.Flags().StringVar(&summary, "summary", "task completed", "Result summary")
	cmd.Flags().Int64Var(&tokens, "tokens", 1000, "Actual tokens consumed")
	cmd.Flags().Int64Var(&cost, "cost-micros", 3000, "Actual cost in micro-USD")
	cmd.Flags().BoolVar(&fail, "fail", false, "Report the execution as failed")
	return cmd
}

func printDecision(phase string, decision *primary.ExecutionDecision) {
	verdict := "PROCEED"
	if !decision.Proceed {
		verdict = "REFUSED"
	}
	fmt.Printf("  %s: %s (%s)", phase, verdict, decision.Outcome)
	if decision.Reason != "" {
		fmt.Printf(" - %s", decision.Reason)
	}
	fmt.Println()
	if decision.ApprovalID != "" {
		fmt.Printf("  approval: %s\n", decision.ApprovalID)
	}
	if decision.ReservationID != "" {
		fmt.Printf("  reservation: %s\n", decision.ReservationID)
	}
}
