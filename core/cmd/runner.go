// Package cmd is the process entry point shared by bot binaries: load the
// config, bootstrap the app, run Telegram until SIGINT or SIGTERM.
package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/featurebot/core/config"
	"github.com/m3rciful/featurebot/core/logger"
	coretelegram "github.com/m3rciful/featurebot/core/telegram"
)

// ConfigCarrier exposes the core configuration.
type ConfigCarrier interface {
	CoreConfig() *coreconfig.Config
}

// TelegramApp builds the Telegram runtime options.
type TelegramApp interface {
	TelegramRunOptions() (coretelegram.RunOptions, error)
}

// Options wires Run. LoadConfig and Bootstrap are required.
type Options struct {
	// ConfigEnvVar names the variable holding the config path; CONFIG_PATH by default.
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (ConfigCarrier, error)
	Bootstrap  func(cfg ConfigCarrier) (TelegramApp, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
	// Context replaces the signal-bound context, for tests.
	Context context.Context
}

// Run blocks until the bot stops.
func Run(opts Options) error {
	if opts.LoadConfig == nil || opts.Bootstrap == nil {
		return errors.New("cmd: LoadConfig and Bootstrap are required")
	}
	began := time.Now()

	env := cmp.Or(opts.ConfigEnvVar, "CONFIG_PATH")
	path := cmp.Or(os.Getenv(env), opts.DefaultConfigPath)
	if path == "" {
		log.Printf("no config file set via %s, using environment only", env)
	} else {
		log.Printf("loading config: %s", path)
	}
	cfg, err := opts.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}
	if cfg == nil || cfg.CoreConfig() == nil {
		return errors.New("cmd: loaded config is missing core configuration")
	}

	app, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	closeLog := opts.ShutdownLogger
	if closeLog == nil {
		closeLog = logger.Shutdown
	}
	defer func() {
		if err := closeLog(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	ro, err := app.TelegramRunOptions()
	if err != nil {
		return fmt.Errorf("cmd: telegram options build failed: %w", err)
	}
	ro.OnStart = chain(ro.OnStart, func(ctx context.Context, _ coretelegram.Runtime) error {
		logger.App.LogAttrs(ctx, slog.LevelInfo, "ready",
			slog.Duration("startup_duration", time.Since(began)))
		return nil
	})
	ro.OnStop = chain(func(ctx context.Context, _ coretelegram.Runtime) error {
		logger.App.LogAttrs(ctx, slog.LevelInfo, "shutdown")
		return nil
	}, ro.OnStop)

	ctx := opts.Context
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
	}
	run := opts.RunTelegram
	if run == nil {
		run = coretelegram.RunTelegram
	}
	return run(ctx, ro)
}

type hook = func(context.Context, coretelegram.Runtime) error

// chain runs the non-nil hooks in order and stops at the first error.
func chain(hooks ...hook) hook {
	return func(ctx context.Context, rt coretelegram.Runtime) error {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h(ctx, rt); err != nil {
				return err
			}
		}
		return nil
	}
}
