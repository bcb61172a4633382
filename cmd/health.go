package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ridoystarlord/persisto/database"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database connectivity",
	Long: `Check if the configured store is accessible and responsive.

Examples:
  persisto health                    # Check default database connection
  persisto health --timeout 10s      # Set custom timeout
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkDatabaseHealth(); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
		fmt.Println("✅ Database is healthy and accessible")
		return nil
	},
}

var healthTimeout time.Duration

func init() {
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "Timeout for health check")
}

func checkDatabaseHealth() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	be, err := database.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	if err := be.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	fmt.Printf("📊 Driver %s, default schema %s\n", cfg.Driver, be.DefaultSchema())
	return nil
}
