// Package bootstrap prepares the infrastructure a bot needs before it connects to Telegram.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/featurebot/bot/docstore"
	coreconfig "github.com/m3rciful/featurebot/core/config"
	"github.com/m3rciful/featurebot/core/logger"
)

// Options control the bootstrap pipeline.
type Options struct {
	Config  *coreconfig.Config
	Modules Modules

	LoggerInit func(*coreconfig.Config) error
	OpenStore  func(context.Context, coreconfig.StorageConfig) (docstore.Store, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store docstore.Store
}

// Run initializes the logger, opens the document store (migrating SQL
// backends) and runs the seeders.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	open := opts.OpenStore
	if open == nil {
		open = docstore.Open
	}
	start := time.Now()
	st, err := open(ctx, opts.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: storage initialization failed: %w", err)
	}

	for i, s := range opts.Modules.Seeders {
		if err := s.Seed(ctx, st); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("bootstrap: seeder %d failed: %w", i, err)
		}
	}

	logger.App.Info("bootstrap complete",
		slog.String("event", "bootstrap"),
		slog.String("storage", docstore.BackendOf(st)),
		slog.Int("seeders", len(opts.Modules.Seeders)),
		slog.Duration("duration", time.Since(start)),
	)
	return &Result{Store: st}, nil
}
