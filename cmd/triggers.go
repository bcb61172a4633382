package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/persisto/database"
	"github.com/ridoystarlord/persisto/loader"
	"github.com/ridoystarlord/persisto/persist"
	"github.com/ridoystarlord/persisto/schema"
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Install version guards on versioned tables",
	Long: `Create the trigger that rejects stale optimistic-version updates on every
versioned table of the schema that does not have one yet.

Examples:
  persisto triggers                       # Use the schema from PERSIST_SCHEMA
  persisto triggers --schema custom.yaml  # Use a custom schema file
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ensureTriggers(cmd.Context())
	},
}

var triggersSchemaFile string

func init() {
	triggersCmd.Flags().StringVarP(&triggersSchemaFile, "schema", "s", "", "Schema file (default from PERSIST_SCHEMA)")
}

func ensureTriggers(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	file := triggersSchemaFile
	if file == "" {
		file = cfg.SchemaFile
	}
	doc, err := loader.LoadYAML(file)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	be, err := database.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	var opts []schema.BuildOption
	if doc.Schema == "" {
		opts = append(opts, schema.WithDefaultSchema(cfg.DefaultSchema))
	}
	reg, err := doc.Build(opts...)
	if err != nil {
		return fmt.Errorf("failed to build schema: %w", err)
	}

	created, err := persist.EnsureVersionTriggers(ctx, reg, be, log)
	for _, name := range created {
		color.Green("✅ Created trigger %s", name)
	}
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Println("✅ All version triggers are in place")
	}
	return nil
}
