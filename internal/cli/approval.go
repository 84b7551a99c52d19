package cli

import (
	gocontext "context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/ports/primary"
	"github.com/example/warden/internal/wire"
)

var approvalCmd = &cobra.Command{
	Use:   "approval",
	Short: "Manage approval requests",
	Long:  "List, inspect and resolve approval requests in the warden ledger",
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		projectID, _ := cmd.Flags().GetString("project")
		taskID, _ := cmd.Flags().GetString("task")
		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		approvals, err := wire.ApprovalGateService().ListApprovals(ctx, primary.ApprovalFilters{
			ProjectID: projectID,
			TaskID:    taskID,
			Status:    status,
			Kind:      kind,
			Limit:     limit,
		})
		if err != nil {
			return fmt.Errorf("failed to list approvals: %w", err)
		}

		if len(approvals) == 0 {
			fmt.Println("No approval requests found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROJECT\tTASK\tKIND\tSTATUS\tFLAGS\tEXPIRES")
		fmt.Fprintln(w, "--\t-------\t----\t----\t------\t-----\t-------")
		for _, item := range approvals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				item.ID,
				item.ProjectID,
				item.TaskID,
				item.Kind,
				item.Status,
				strings.Join(item.RiskFlags, ","),
				item.ExpiresAt,
			)
		}
		w.Flush()
		return nil
	},
}

var approvalShowCmd = &cobra.Command{
	Use:   "show [request-id]",
	Short: "Show approval request details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		approval, err := wire.ApprovalGateService().GetApproval(ctx, args[0])
		if err != nil {
			return fmt.Errorf("approval not found: %w", err)
		}

		fmt.Printf("Approval: %s\n", approval.ID)
		fmt.Printf("Project: %s\n", approval.ProjectID)
		fmt.Printf("Task: %s\n", approval.TaskID)
		fmt.Printf("Agent: %s\n", approval.AgentType)
		fmt.Printf("Kind: %s\n", approval.Kind)
		fmt.Printf("Action: %s\n", approval.Action)
		fmt.Printf("Status: %s\n", approval.Status)
		if len(approval.RiskFlags) > 0 {
			fmt.Printf("Risk Flags: %s\n", strings.Join(approval.RiskFlags, ", "))
		}
		fmt.Printf("Estimated: %d tokens / $%.4f\n",
			approval.EstimatedTokens, float64(approval.EstimatedCostMicros)/1e6)
		if approval.Reason != "" {
			fmt.Printf("Reason: %s\n", approval.Reason)
		}
		if approval.Resolver != "" {
			fmt.Printf("Resolver: %s", approval.Resolver)
			if approval.AutoApproved {
				fmt.Printf(" (auto)")
			}
			fmt.Println()
		}
		if approval.Comment != "" {
			fmt.Printf("Comment: %s\n", approval.Comment)
		}
		fmt.Printf("Created: %s\n", approval.CreatedAt)
		fmt.Printf("Expires: %s\n", approval.ExpiresAt)
		if approval.ResolvedAt != "" {
			fmt.Printf("Resolved: %s\n", approval.ResolvedAt)
		}
		return nil
	},
}

var approvalApproveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		comment, _ := cmd.Flags().GetString("comment")

		return resolveRequest(ctx, args[0], true, comment)
	},
}

var approvalRejectCmd = &cobra.Command{
	Use:   "reject [request-id]",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()
		comment, _ := cmd.Flags().GetString("comment")

		return resolveRequest(ctx, args[0], false, comment)
	},
}

// resolveRequest records the decision and, for an approved budget override,
// applies the granted headroom in the same breath.
func resolveRequest(ctx gocontext.Context, requestID string, approve bool, comment string) error {
	resolution, err := wire.ApprovalGateService().Resolve(ctx, primary.ResolveRequest{
		RequestID: requestID,
		Approve:   approve,
		Resolver:  GetActorID(),
		Comment:   comment,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve request: %w", err)
	}

	fmt.Printf("%s: %s", requestID, resolution.Outcome)
	if resolution.Resolver != "" {
		fmt.Printf(" (by %s)", resolution.Resolver)
	}
	fmt.Println()

	if resolution.Outcome != primary.OutcomeApproved {
		return nil
	}
	record, err := wire.ApprovalGateService().GetApproval(ctx, requestID)
	if err != nil {
		return err
	}
	if record.Kind == primary.ApprovalKindBudgetOverride {
		if err := wire.BudgetService().ApplyOverride(ctx, requestID); err != nil {
			return fmt.Errorf("override approved but not applied: %w", err)
		}
		fmt.Println("Budget override applied.")
	}
	return nil
}

func init() {
	approvalListCmd.Flags().String("project", "", "Filter by project ID")
	approvalListCmd.Flags().String("task", "", "Filter by task ID")
	approvalListCmd.Flags().String("status", "", "Filter by status (pending|approved|rejected|expired|cancelled)")
	approvalListCmd.Flags().String("kind", "", "Filter by kind (pre_execution|response|budget_override)")
	approvalListCmd.Flags().Int("limit", 0, "Limit the number of results")

	approvalApproveCmd.Flags().String("comment", "", "Optional resolution comment")
	approvalRejectCmd.Flags().String("comment", "", "Optional resolution comment")

	approvalCmd.AddCommand(approvalListCmd)
	approvalCmd.AddCommand(approvalShowCmd)
	approvalCmd.AddCommand(approvalApproveCmd)
	approvalCmd.AddCommand(approvalRejectCmd)
}

// ApprovalCmd returns the approval command
func ApprovalCmd() *cobra.Command {
	return approvalCmd
}
