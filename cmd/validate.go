package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/persisto/database"
	"github.com/ridoystarlord/persisto/loader"
	"github.com/ridoystarlord/persisto/schema"
	"github.com/ridoystarlord/persisto/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the YAML entity schema",
	Long: `Validate your YAML schema file and, when connected, check it against the store.

This command performs comprehensive validation including:
- Table and column naming (identifier rules, reserved keywords)
- Data types the engine can coerce
- Relationship wiring (inverse lookups, link columns, specializations)
- Live tables, primary keys, columns and foreign keys (when connected)
- Version triggers on versioned tables (when connected)

The validator works in two modes:
- Offline: Validates schema syntax and relationships (no database required)
- Online: Also checks against the live store (requires DATABASE_URL)

Examples:
  persisto validate                       # Validate schema.yaml (offline)
  persisto validate --schema custom.yaml  # Validate custom schema file
  persisto validate --format json         # Output validation results as JSON
  DATABASE_URL=postgres://... persisto validate  # Online validation
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateSchema(); err != nil {
			return fmt.Errorf("schema validation failed: %w", err)
		}
		return nil
	},
}

var (
	validateSchemaFile string
	validateFormat     string
)

func init() {
	validateCmd.Flags().StringVarP(&validateSchemaFile, "schema", "s", "", "Schema file to validate (default from PERSIST_SCHEMA)")
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "text", "Output format (text, json)")
}

func validateSchema() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	file := validateSchemaFile
	if file == "" {
		file = cfg.SchemaFile
	}
	doc, err := loader.LoadYAML(file)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	defaultSchema := doc.Schema
	if defaultSchema == "" && cfg.DatabaseURL != "" {
		defaultSchema = cfg.DefaultSchema
	}
	result, reg := validator.NewSchemaValidator(nil).ValidateDefinitions(doc.Tables, schema.WithDefaultSchema(defaultSchema))

	if reg != nil && cfg.DatabaseURL != "" {
		ctx := context.Background()
		be, err := database.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer be.Close()

		live, err := validator.NewSchemaValidator(be).ValidateLive(ctx, reg)
		if err != nil {
			return fmt.Errorf("failed to validate schema: %w", err)
		}
		merge(result, live)
	} else if cfg.DatabaseURL == "" {
		log.Debug().Msg("DATABASE_URL not set, using offline schema validation")
	}

	if validateFormat == "json" {
		err = outputJSON(result)
	} else {
		err = outputText(result)
	}
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("%d error(s)", len(result.Errors))
	}
	return nil
}

func merge(into, from *validator.ValidationResult) {
	into.Errors = append(into.Errors, from.Errors...)
	into.Warnings = append(into.Warnings, from.Warnings...)
	into.Info = append(into.Info, from.Info...)
	into.Valid = len(into.Errors) == 0
}

func outputJSON(result *validator.ValidationResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputText(result *validator.ValidationResult) error {
	// Print summary
	if result.Valid {
		color.Green("✅ Schema validation passed!")
	} else {
		color.Red("❌ Schema validation failed!")
	}

	// Print errors
	if len(result.Errors) > 0 {
		fmt.Printf("\n🔴 Errors (%d):\n", len(result.Errors))
		for i, err := range result.Errors {
			fmt.Printf("  %d. ", i+1)
			if err.Table != "" {
				fmt.Printf("[%s]", err.Table)
			}
			if err.Column != "" {
				fmt.Printf(".%s", err.Column)
			}
			fmt.Printf(": %s\n", err.Message)
		}
	}

	// Print warnings
	if len(result.Warnings) > 0 {
		fmt.Printf("\n🟡 Warnings (%d):\n", len(result.Warnings))
		for i, warning := range result.Warnings {
			fmt.Printf("  %d. ", i+1)
			if warning.Table != "" {
				fmt.Printf("[%s]", warning.Table)
			}
			if warning.Column != "" {
				fmt.Printf(".%s", warning.Column)
			}
			fmt.Printf(": %s\n", warning.Message)
		}
	}

	// Print info
	if len(result.Info) > 0 {
		fmt.Printf("\n🔵 Info (%d):\n", len(result.Info))
		for i, info := range result.Info {
			fmt.Printf("  %d. ", i+1)
			if info.Table != "" {
				fmt.Printf("[%s]", info.Table)
			}
			if info.Column != "" {
				fmt.Printf(".%s", info.Column)
			}
			fmt.Printf(": %s\n", info.Message)
		}
	}

	// Print summary
	fmt.Printf("\n📊 Summary:\n")
	fmt.Printf("  • Errors: %d\n", len(result.Errors))
	fmt.Printf("  • Warnings: %d\n", len(result.Warnings))
	fmt.Printf("  • Info: %d\n", len(result.Info))

	if result.Valid {
		fmt.Printf("\n🎉 Your schema is valid and ready to persist into!\n")
	} else {
		fmt.Printf("\n💡 Fix the errors above before opening the engine.\n")
	}

	return nil
} 