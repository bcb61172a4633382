// Package config reads the runtime settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultSchemaFile = "schema.yaml"
)

type Config struct {
	DatabaseURL string
	Driver      string
	// SchemaFile is the YAML schema definition the CLI builds its registry from.
	SchemaFile    string
	DefaultSchema string
	LogLevel      zerolog.Level
	// DotEnv reports whether a .env file was found.
	DotEnv bool
}

// Load reads .env (if any) and then the process environment. Values already
// set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	cfg := &Config{DotEnv: godotenv.Load(files...) == nil}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SchemaFile = getenv("PERSIST_SCHEMA", DefaultSchemaFile)

	cfg.Driver = strings.ToLower(os.Getenv("PERSIST_DRIVER"))
	if cfg.Driver == "" {
		cfg.Driver = DriverFor(cfg.DatabaseURL)
	}

	cfg.DefaultSchema = os.Getenv("PERSIST_DEFAULT_SCHEMA")
	if cfg.DefaultSchema == "" {
		if cfg.Driver == DriverSQLite {
			cfg.DefaultSchema = "main"
		} else {
			cfg.DefaultSchema = "public"
		}
	}

	level, err := zerolog.ParseLevel(getenv("PERSIST_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PERSIST_LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level
	return cfg, nil
}

// Validate reports settings the backend cannot be opened without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL not set (in .env or environment)")
	}
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
		return nil
	default:
		return fmt.Errorf("unknown driver %q (want %s or %s)", c.Driver, DriverPostgres, DriverSQLite)
	}
}

// DriverFor infers the driver from a URL scheme. Anything that is not a
// postgres URL is treated as a SQLite path.
func DriverFor(url string) string {
	if url == "" {
		return ""
	}
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// SQLitePath strips the optional sqlite:// or file: prefix from a URL.
func SQLitePath(url string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(strings.ToLower(url), prefix) {
			return url[len(prefix):]
		}
	}
	return url
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
