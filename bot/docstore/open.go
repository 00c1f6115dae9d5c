package docstore

import (
	"context"
	"fmt"
	"log/slog"

	coreconfig "github.com/m3rciful/featurebot/core/config"
	"github.com/m3rciful/featurebot/core/database"
	"github.com/m3rciful/featurebot/core/logger"
)

// Open builds the store selected by cfg.Backend. SQL backends are migrated before use.
func Open(ctx context.Context, cfg coreconfig.StorageConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Backend {
	case coreconfig.StorageFile, "":
		st, err = NewFileStore(cfg.Dir)
	case coreconfig.StoragePostgres, coreconfig.StorageSQLite:
		db, cerr := database.Connect(ctx, cfg.Database)
		if cerr != nil {
			return nil, cerr
		}
		if merr := database.Migrate(ctx, cfg.Database, db); merr != nil {
			_ = db.Close()
			return nil, merr
		}
		st, err = NewSQLStore(db)
	case coreconfig.StorageRedis:
		st, err = NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("docstore: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Store.Info("document store ready",
		slog.String("event", "store.open"),
		slog.String("backend", BackendOf(st)),
	)
	return st, nil
}

// BackendOf names the backend behind st, or "custom" for foreign implementations.
func BackendOf(st Store) string {
	if b, ok := st.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return "custom"
}
