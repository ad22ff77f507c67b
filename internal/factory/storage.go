package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	storepkg "github.com/engram-io/engram/internal/store"
	storepg "github.com/engram-io/engram/internal/store/postgres"
	storesqlite "github.com/engram-io/engram/internal/store/sqlite"
)

// NewStore opens the system of record selected by cfg.DBDriver. Schema
// bootstrap runs inline so the process fails fast on a broken database.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		st, err := storepg.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "postgres").Msg("store ready")
		return st, nil
	case "sqlite":
		st, err := storesqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "sqlite").Str("path", cfg.SQLitePath).Msg("store ready")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
