// Package main starts the feature bot.
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/m3rciful/featurebot/bot/aigen"
	"github.com/m3rciful/featurebot/bot/app"
	"github.com/m3rciful/featurebot/core/bootstrap"
	"github.com/m3rciful/featurebot/core/cmd"
	coreconfig "github.com/m3rciful/featurebot/core/config"
	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/core/telemetry"
)

func main() {
	err := cmd.Run(cmd.Options{
		ConfigEnvVar: "CONFIG_PATH",
		LoadConfig: func(path string) (cmd.ConfigCarrier, error) {
			return coreconfig.Load(path)
		},
		Bootstrap: bootstrapApp,
	})
	if err != nil {
		log.Fatalf("featurebot: %v", err)
	}
}

func bootstrapApp(cc cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg := cc.CoreConfig()
	ctx := context.Background()

	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:  cfg,
		Modules: bootstrap.Modules{Seeders: []bootstrap.Seeder{app.BuiltinSeeder()}},
	})
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		_ = res.Store.Close()
		return nil, err
	}

	deps := app.Deps{
		Config: cfg,
		Store:  res.Store,
		OnStop: []func(context.Context) error{shutdownTracing},
	}
	if cfg.AI.Enabled {
		gemini, err := aigen.NewGemini(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			logger.App.Warn("AI generation disabled",
				slog.String("event", "bootstrap.ai"),
				slog.String("err", err.Error()),
			)
		} else {
			deps.Text = gemini
		}
	}

	a, err := app.New(deps)
	if err != nil {
		_ = res.Store.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}
	return a, nil
}
