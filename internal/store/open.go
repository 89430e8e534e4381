package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/config"
)

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemory(nil), nil
	case config.DriverSQLite, config.DriverPostgres:
		return OpenSQL(ctx, cfg.Driver, cfg.DSN, log)
	case config.DriverMongo:
		return OpenMongo(ctx, cfg.DSN, cfg.MongoDB, log)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
