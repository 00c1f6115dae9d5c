package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/core/bootstrap"
	"github.com/m3rciful/featurebot/core/logger"
)

// BuiltinSeeder registers the built-in features on a fresh store.
// A store that already holds a registry is left alone, so builtins an admin
// deleted stay deleted.
func BuiltinSeeder() bootstrap.Seeder {
	return bootstrap.SeederFunc(seedBuiltins)
}

func seedBuiltins(ctx context.Context, st docstore.Store) error {
	var existing map[string]any
	err := st.Load(ctx, features.DocumentName, &existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, docstore.ErrNotExist) {
		return fmt.Errorf("seed builtins: %w", err)
	}

	reg := features.NewRegistry(st)
	for _, d := range plugins.BuiltinFeatures() {
		if _, err := reg.Add(ctx, d); err != nil && !errors.Is(err, features.ErrDuplicateID) {
			return fmt.Errorf("seed builtin %s: %w", d.ID, err)
		}
	}
	logger.App.Info("builtin features seeded",
		slog.String("event", "bootstrap.seed"),
		slog.Int("count", len(plugins.BuiltinFeatures())),
	)
	return nil
}
