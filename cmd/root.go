package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/persisto/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "persisto",
	Short: "Schema and store tooling for the persisto persistence engine",
	Long: `persisto checks entity schemas and prepares the store the engine persists into.

Examples:

  persisto validate
  persisto health
  persisto triggers
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

// Register subcommands
func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine and backend activity to stderr")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(triggersCmd)
}

// setup loads the configuration and builds the logger the engine and the
// backends write to.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if !verbose {
		return cfg, zerolog.Nop(), nil
	}
	level := cfg.LogLevel
	if level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	if !cfg.DotEnv {
		log.Info().Msg("no .env file found, continuing")
	}
	return cfg, log, nil
}
