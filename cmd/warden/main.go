package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/cli"
	"github.com/example/warden/internal/version"
)

func main() {
	var actorFlag string

	rootCmd := &cobra.Command{
		Use:     "warden",
		Short:   "WARDEN - Safety governor for multi-agent development",
		Version: version.String(),
		Long: `WARDEN sits between a task scheduler and its agents. It assesses the
risk of each proposed action, reserves token and cost budget, holds
flagged work for human approval, and halts the project when budgets or
error rates cross their limits.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.StoreActor(actorFlag)
		},
	}
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Identity recorded on approvals (default from config)")

	// Add subcommands
	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.DoctorCmd())
	rootCmd.AddCommand(cli.ProjectCmd())
	rootCmd.AddCommand(cli.ApprovalCmd())
	rootCmd.AddCommand(cli.BudgetCmd())
	rootCmd.AddCommand(cli.EmergencyCmd())
	rootCmd.AddCommand(cli.RecoveryCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.DaemonCmd())
	rootCmd.AddCommand(cli.SimulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
