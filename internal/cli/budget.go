package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/wire"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage budget counters",
	Long:  "Inspect budget counters, set limits and apply approved overrides",
}

var budgetShowCmd = &cobra.Command{
	Use:   "show [project-id]",
	Short: "Show budget counters for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		counters, err := wire.BudgetService().GetCounters(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load counters: %w", err)
		}
		if len(counters) == 0 {
			fmt.Println("No budget counters yet; counters are created on first use.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tUSED\tRESERVED\tLIMIT\tOVERRIDE\tCOST USED\tCOST LIMIT\tEMERGENCY")
		fmt.Fprintln(w, "-----\t----\t--------\t-----\t--------\t---------\t----------\t---------")
		for _, c := range counters {
			emergency := ""
			if c.EmergencyTriggered {
				emergency = "TRIPPED"
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t$%.4f\t%s\t%s\n",
				c.AgentType,
				c.TokensUsed,
				c.TokensReserved,
				formatLimit(c.DailyTokenLimit),
				c.OverrideTokens,
				float64(c.CostUsedMicros)/1e6,
				formatCostLimit(c.DailyCostLimitMicros),
				emergency,
			)
		}
		w.Flush()
		return nil
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set [project-id] [agent-type]",
	Short: "Set budget limits for a (project, agent) counter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		dailyTokens, _ := cmd.Flags().GetInt64("daily-tokens")
		dailyCostMicros, _ := cmd.Flags().GetInt64("daily-cost-micros")
		sessionTokens, _ := cmd.Flags().GetInt64("session-tokens")

		if err := wire.BudgetService().SetLimits(ctx, args[0], args[1], dailyTokens, dailyCostMicros, sessionTokens); err != nil {
			return fmt.Errorf("failed to set limits: %w", err)
		}
		fmt.Printf("Limits updated for %s/%s\n", args[0], args[1])
		return nil
	},
}

var budgetOverrideCmd = &cobra.Command{
	Use:   "override [request-id]",
	Short: "Apply an approved budget override request",
	Long:  "Grant the headroom approved by a budget_override request. The request must already be approved.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		if err := wire.BudgetService().ApplyOverride(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to apply override: %w", err)
		}
		fmt.Printf("Override %s applied.\n", args[0])
		return nil
	},
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Apply due daily resets now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		reset, err := wire.BudgetService().ResetDueCounters(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset counters: %w", err)
		}
		fmt.Printf("Reset %d counter(s).\n", reset)
		return nil
	},
}

func formatLimit(limit int64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}

func formatCostLimit(micros int64) string {
	if micros <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.4f", float64(micros)/1e6)
}

func init() {
	budgetSetCmd.Flags().Int64("daily-tokens", 0, "Daily token limit (0 = unlimited)")
	budgetSetCmd.Flags().Int64("daily-cost-micros", 0, "Daily cost limit in micro-USD (0 = unlimited)")
	budgetSetCmd.Flags().Int64("session-tokens", 0, "Per-invocation token limit (0 = unlimited)")

	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	budgetCmd.AddCommand(budgetOverrideCmd)
	budgetCmd.AddCommand(budgetResetCmd)
}

// BudgetCmd returns the budget command
func BudgetCmd() *cobra.Command {
	return budgetCmd
}
