package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/wire"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Supervised recovery of a halted project",
	Long:  "Start a recovery session and walk its steps: approve, then execute, one at a time",
}

var recoveryStartCmd = &cobra.Command{
	Use:   "start [project-id]",
	Short: "Assess a halted project and create the recovery plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		session, err := wire.RecoveryService().InitiateRecovery(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to start recovery: %w", err)
		}

		fmt.Printf("Recovery session %s created (%d steps).\n", session.ID, len(session.Steps))
		printSteps(session)
		fmt.Printf("\nApprove the first step with: warden recovery approve %s 1\n", session.ID)
		return nil
	},
}

var recoveryStatusCmd = &cobra.Command{
	Use:   "status [project-id]",
	Short: "Show the active recovery session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		session, err := wire.RecoveryService().GetActiveSession(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load session: %w", err)
		}
		if session == nil {
			fmt.Printf("No active recovery session for %s.\n", args[0])
			return nil
		}

		fmt.Printf("Session: %s (%s), current step %d\n", session.ID, session.Status, session.CurrentStep)
		printSteps(session)
		return nil
	},
}

var recoveryApproveCmd = &cobra.Command{
	Use:   "approve [session-id] [step]",
	Short: "Approve a recovery step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		seq, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("step must be a number: %w", err)
		}

		if err := wire.RecoveryService().ApproveStep(ctx, args[0], seq); err != nil {
			return err
		}
		fmt.Printf("Step %d approved. Execute it with: warden recovery exec %s %d\n", seq, args[0], seq)
		return nil
	},
}

var recoveryRejectCmd = &cobra.Command{
	Use:   "reject [session-id] [step]",
	Short: "Reject a recovery step, aborting the session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		seq, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("step must be a number: %w", err)
		}
		comment, _ := cmd.Flags().GetString("comment")

		if err := wire.RecoveryService().RejectStep(ctx, args[0], seq, comment); err != nil {
			return err
		}
		fmt.Printf("Step %d rejected; session %s aborted. The project stays halted.\n", seq, args[0])
		return nil
	},
}

var recoveryExecCmd = &cobra.Command{
	Use:   "exec [session-id] [step]",
	Short: "Execute an approved recovery step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		seq, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("step must be a number: %w", err)
		}

		if err := wire.RecoveryService().ExecuteStep(ctx, args[0], seq); err != nil {
			return err
		}

		session, err := wire.RecoveryService().GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		if session.Status == primary.RecoveryStatusCompleted {
			fmt.Printf("Step %d done. Recovery complete; project %s resumed.\n", seq, session.ProjectID)
		} else {
			fmt.Printf("Step %d done. Next: warden recovery approve %s %d\n", seq, args[0], session.CurrentStep)
		}
		return nil
	},
}

func printSteps(session *primary.RecoverySession) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tACTION\tAPPROVAL\tSTATE\tDESCRIPTION")
	fmt.Fprintln(w, "----\t------\t--------\t-----\t-----------")
	for _, step := range session.Steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			step.Seq,
			step.Action,
			step.Approval,
			step.State,
			step.Description,
		)
	}
	w.Flush()
}

func init() {
	recoveryRejectCmd.Flags().String("comment", "", "Why the step was rejected")

	recoveryCmd.AddCommand(recoveryStartCmd)
	recoveryCmd.AddCommand(recoveryStatusCmd)
	recoveryCmd.AddCommand(recoveryApproveCmd)
	recoveryCmd.AddCommand(recoveryRejectCmd)
	recoveryCmd.AddCommand(recoveryExecCmd)
}

// RecoveryCmd returns the recovery command
func RecoveryCmd() *cobra.Command {
	return recoveryCmd
}
