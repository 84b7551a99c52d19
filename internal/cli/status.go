package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/wire"
)

// StatusCmd returns the status command
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project-id]",
		Short: "Show the governor's view of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := NewContext()
			projectID := args[0]

			project, err := wire.ProjectService().GetProject(ctx, projectID)
			if err != nil {
				return fmt.Errorf("project not found: %w", err)
			}

			fmt.Printf("Project: %s (%s)\n", project.ID, project.Name)
			switch project.Status {
			case primary.ProjectStatusHalted:
				color.New(color.FgRed, color.Bold).Printf("Status: HALTED\n")
			default:
				fmt.Printf("Status: %s\n", project.Status)
			}

			stop, err := wire.EmergencyStopService().ActiveStop(ctx, projectID)
			if err != nil {
				return err
			}
			if stop != nil {
				fmt.Printf("Active Stop: %s (%s) since %s\n",
					stop.ID, strings.Join(stop.Conditions, ","), stop.CreatedAt)
				session, err := wire.RecoveryService().GetActiveSession(ctx, projectID)
				if err != nil {
					return err
				}
				if session != nil {
					fmt.Printf("Recovery: %s (%s), step %d of %d\n",
						session.ID, session.Status, session.CurrentStep, len(session.Steps))
				} else {
					fmt.Println("Recovery: not started (warden recovery start)")
				}
			}

			pending, err := wire.ApprovalGateService().ListApprovals(ctx, primary.ApprovalFilters{
				ProjectID: projectID,
				Status:    primary.ApprovalStatusPending,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Pending Approvals: %d\n", len(pending))
			for _, item := range pending {
				fmt.Printf("  %s  %s  %s (expires %s)\n", item.ID, item.Kind, item.Action, item.ExpiresAt)
			}

			counters, err := wire.BudgetService().GetCounters(ctx, projectID)
			if err != nil {
				return err
			}
			if len(counters) > 0 {
				fmt.Println("Budget:")
				for _, c := range counters {
					line := fmt.Sprintf("  %s: %d used + %d reserved / %s tokens",
						c.AgentType, c.TokensUsed, c.TokensReserved, formatLimit(c.DailyTokenLimit))
					if c.EmergencyTriggered {
						line += "  [EMERGENCY]"
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}
