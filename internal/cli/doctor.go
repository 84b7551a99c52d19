package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/db"
	"github.com/example/warden/internal/policy"
)

// CheckResult represents the outcome of a single check
type CheckResult struct {
	Name    string
	Status  string // "✓", "⚠", "✗"
	Details string // Only shown if Status != "✓"
}

// DoctorCmd returns the doctor command for environment validation
func DoctorCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the warden environment",
		Long: `Environment health check for warden.

Validates:
- Database file and schema (~/.warden/warden.db)
- Configuration (.warden/config.json)
- Risk policy (.warden/policy.yaml)

Examples:
  warden doctor           # Run full health check
  warden doctor --quiet   # Exit code only (0=healthy, 1=issues)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			results := []CheckResult{
				checkDatabase(),
				checkConfig(),
				checkPolicy(),
			}

			hasErrors := false
			for _, r := range results {
				if r.Status == "✗" {
					hasErrors = true
					break
				}
			}

			if !quiet {
				fmt.Println()
				fmt.Println("Check        Status")
				fmt.Println("───────────────────")
				for _, r := range results {
					fmt.Printf("%-12s %s\n", r.Name, r.Status)
				}
				fmt.Println()
				for _, r := range results {
					if r.Status != "✓" && r.Details != "" {
						fmt.Printf("%s: %s\n", r.Name, r.Details)
					}
				}
			}

			if hasErrors {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&quiet, "quiet", false, "Exit code only")
	return cmd
}

func checkDatabase() CheckResult {
	result := CheckResult{Name: "Database", Status: "✓"}

	path, err := db.GetDBPath()
	if err != nil {
		return CheckResult{Name: "Database", Status: "✗", Details: err.Error()}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{Name: "Database", Status: "✗", Details: "not initialized; run 'warden init'"}
	}

	database, err := db.GetDB()
	if err != nil {
		return CheckResult{Name: "Database", Status: "✗", Details: err.Error()}
	}
	var count int
	err = database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&count)
	if err != nil || count == 0 {
		return CheckResult{Name: "Database", Status: "✗", Details: "schema missing; run 'warden init'"}
	}
	return result
}

func checkConfig() CheckResult {
	cwd, err := os.Getwd()
	if err != nil {
		return CheckResult{Name: "Config", Status: "✗", Details: err.Error()}
	}
	if _, err := config.LoadConfig(cwd); err != nil {
		return CheckResult{Name: "Config", Status: "⚠", Details: "no .warden/config.json; defaults in effect"}
	}
	return CheckResult{Name: "Config", Status: "✓"}
}

func checkPolicy() CheckResult {
	cwd, err := os.Getwd()
	if err != nil {
		return CheckResult{Name: "Policy", Status: "✗", Details: err.Error()}
	}
	if _, err := policy.Load(cwd); err != nil {
		return CheckResult{Name: "Policy", Status: "✗", Details: err.Error()}
	}
	return CheckResult{Name: "Policy", Status: "✓"}
}
