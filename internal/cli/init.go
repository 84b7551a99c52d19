package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/warden/internal/config"
	"github.com/example/warden/internal/db"
	"github.com/example/warden/internal/policy"
)

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the warden database and configuration",
		Long:  `Initialize the warden database at ~/.warden/warden.db and scaffold .warden/config.json and .warden/policy.yaml in the current directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := db.GetDBPath()
			if err != nil {
				return fmt.Errorf("failed to get database path: %w", err)
			}

			fmt.Printf("Initializing warden database at %s\n", dbPath)
			if _, err := db.GetDB(); err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			fmt.Println("✓ Database initialized")

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			if _, err := config.LoadConfig(cwd); err != nil {
				if err := config.SaveConfig(cwd, config.Default()); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
				fmt.Println("✓ Config created at .warden/config.json")
			} else {
				fmt.Println("✓ Config already present")
			}

			policyPath := filepath.Join(cwd, ".warden", "policy.yaml")
			if _, err := os.Stat(policyPath); os.IsNotExist(err) {
				if err := policy.Save(cwd, policy.File{}); err != nil {
					return fmt.Errorf("failed to write policy: %w", err)
				}
				fmt.Println("✓ Policy scaffolded at .warden/policy.yaml")
			} else {
				fmt.Println("✓ Policy already present")
			}

			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  warden project add \"my-project\"")
			fmt.Println("  warden status PRJ-001")
			return nil
		},
	}
}
