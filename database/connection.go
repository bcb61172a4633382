// Package database opens the backend named by the configuration.
package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/config"
	"github.com/ridoystarlord/persisto/postgres"
	"github.com/ridoystarlord/persisto/sqlite"
)

// Open connects to the configured store and checks that it answers. The
// caller owns the returned backend and must Close it.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (backend.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		be, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DefaultSchema, log)
		if err != nil {
			return nil, err
		}
		return be, nil
	case config.DriverSQLite:
		be, err := sqlite.Open(ctx, config.SQLitePath(cfg.DatabaseURL), log)
		if err != nil {
			return nil, err
		}
		return be, nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}
