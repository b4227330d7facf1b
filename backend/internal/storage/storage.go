// Package storage opens the ledger.Store selected by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/database/sqlite"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/memstore"
	"go.uber.org/zap"
)

// Open returns the configured store with its schema in place.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (ledger.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := database.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		log.Warn("using in-memory ledger; nothing survives a restart")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
