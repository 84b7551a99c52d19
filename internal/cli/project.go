package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/wire"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage governed projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a new governed project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		project, err := wire.ProjectService().CreateProject(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		fmt.Printf("Created project %s (%s)\n", project.ID, project.Name)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List governed projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := NewContext()

		projects, err := wire.ProjectService().ListProjects(ctx)
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}
		if len(projects) == 0 {
			fmt.Println("No projects yet. Add one with: warden project add <name>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCREATED")
		fmt.Fprintln(w, "--\t----\t------\t-------")
		for _, project := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				project.ID,
				project.Name,
				project.Status,
				project.CreatedAt,
			)
		}
		w.Flush()
		return nil
	},
}

func init() {
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
}

// ProjectCmd returns the project command
func ProjectCmd() *cobra.Command {
	return projectCmd
}
