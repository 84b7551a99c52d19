package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/wire"
)

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Manage emergency stops",
	Long:  "Trigger, inspect and clear emergency stops",
}

var emergencyStopCmd = &cobra.Command{
	Use:   "stop [project-id]",
	Short: "Trigger a manual emergency stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			reason = fmt.Sprintf("manual stop by %s", GetActorID())
		}

		stop, err := wire.EmergencyStopService().Trigger(ctx, primary.TriggerRequest{
			ProjectID:  args[0],
			Conditions: []string{primary.ConditionManualStop},
			Severity:   primary.SeverityCritical,
			Reason:     reason,
		})
		if err != nil {
			return fmt.Errorf("failed to trigger emergency stop: %w", err)
		}

		fmt.Printf("Emergency stop %s active for %s\n", stop.ID, stop.ProjectID)
		if len(stop.AffectedTasks) > 0 {
			fmt.Printf("Cancelled pending approvals for: %s\n", strings.Join(stop.AffectedTasks, ", "))
		}
		fmt.Println("Run 'warden recovery start' to begin supervised recovery.")
		return nil
	},
}

var emergencyStatusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show the active emergency stop, if any",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		stop, err := wire.EmergencyStopService().ActiveStop(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to check stop state: %w", err)
		}
		if stop == nil {
			fmt.Printf("Project %s is not halted.\n", args[0])
			return nil
		}

		fmt.Printf("Stop: %s\n", stop.ID)
		fmt.Printf("Severity: %s\n", stop.Severity)
		fmt.Printf("Conditions: %s\n", strings.Join(stop.Conditions, ", "))
		fmt.Printf("Reason: %s\n", stop.Reason)
		if len(stop.AffectedTasks) > 0 {
			fmt.Printf("Affected Tasks: %s\n", strings.Join(stop.AffectedTasks, ", "))
		}
		fmt.Printf("Triggered: %s\n", stop.CreatedAt)
		return nil
	},
}

var emergencyHistoryCmd = &cobra.Command{
	Use:   "history [project-id]",
	Short: "List emergency stop history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		stops, err := wire.EmergencyStopService().ListStops(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to list stops: %w", err)
		}
		if len(stops) == 0 {
			fmt.Println("No emergency stops recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSEVERITY\tCONDITIONS\tREASON\tTRIGGERED\tRESOLVED")
		fmt.Fprintln(w, "--\t--------\t----------\t------\t---------\t--------")
		for _, stop := range stops {
			resolved := stop.ResolvedAt
			if resolved == "" {
				resolved = "active"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				stop.ID,
				stop.Severity,
				strings.Join(stop.Conditions, ","),
				stop.Reason,
				stop.CreatedAt,
				resolved,
			)
		}
		w.Flush()
		return nil
	},
}

var emergencyClearCmd = &cobra.Command{
	Use:   "clear [project-id]",
	Short: "Force-clear an active emergency stop (administrative)",
	Long:  "Resolve an active stop without a completed recovery session. Requires --force.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		force, _ := cmd.Flags().GetBool("force")

		if err := wire.EmergencyStopService().Clear(ctx, args[0], force); err != nil {
			return err
		}
		fmt.Printf("Emergency stop cleared; project %s is active again.\n", args[0])
		return nil
	},
}

func init() {
	emergencyStopCmd.Flags().String("reason", "", "Reason for the stop")
	emergencyClearCmd.Flags().Bool("force", false, "Confirm clearing without recovery")

	emergencyCmd.AddCommand(emergencyStopCmd)
	emergencyCmd.AddCommand(emergencyStatusCmd)
	emergencyCmd.AddCommand(emergencyHistoryCmd)
	emergencyCmd.AddCommand(emergencyClearCmd)
}

// EmergencyCmd returns the emergency command
func EmergencyCmd() *cobra.Command {
	return emergencyCmd
}
