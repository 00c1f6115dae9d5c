// Package app wires the feature bot: the Telegram transport, the built-in
// screens, admin tooling and the feature generation flows.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/bot/admission"
	"github.com/m3rciful/featurebot/bot/aigen"
	"github.com/m3rciful/featurebot/bot/dispatch"
	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/i18n"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/bot/usage"
	"github.com/m3rciful/featurebot/bot/users"
	coreconfig "github.com/m3rciful/featurebot/core/config"
	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/core/telegram/sender"
	"github.com/m3rciful/featurebot/core/telegram/state"
	"github.com/m3rciful/featurebot/core/telemetry"
)

const (
	sweepEvery = time.Minute
	flushEvery = 30 * time.Second
)

// Deps are the collaborators built before the app.
type Deps struct {
	Config  *coreconfig.Config
	Store   docstore.Store
	Metrics *telemetry.Metrics
	// Text enables AI generation when set.
	Text aigen.TextGenerator
	// Notifier overrides the bot-backed notifier, for tests.
	Notifier Notifier
	// Now overrides time.Now, for tests.
	Now func() time.Time
	// OnStop runs after the store is flushed, in order.
	OnStop []func(context.Context) error
}

// Notifier delivers a message to a user outside the current update.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// App holds every runtime component of the bot.
type App struct {
	cfg      *coreconfig.Config
	store    docstore.Store
	metrics  *telemetry.Metrics
	features *features.Registry
	loader   *plugins.Loader
	router   *dispatch.Router
	users    *users.Directory
	usage    *usage.Tracker
	tr       *i18n.Translator
	gen      *aigen.Generator
	gate     *admission.Gate
	states   state.Manager
	now      func() time.Time
	started  time.Time
	onStop   []func(context.Context) error

	mu       sync.RWMutex
	notifier Notifier

	bg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds the app over an opened store.
func New(deps Deps) (*App, error) {
	cfg := deps.Config
	if cfg == nil || deps.Store == nil {
		return nil, fmt.Errorf("app: config and store are required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	tr, err := i18n.Load()
	if err != nil {
		return nil, err
	}

	states := state.NewMemoryManager()
	loader, err := plugins.NewLoader(cfg.Storage.HandlersDir,
		plugins.WithBuiltins(plugins.DefaultBuiltins(states)),
	)
	if err != nil {
		return nil, err
	}
	registry := features.NewRegistry(deps.Store, features.WithMaterializer(loader))
	loader.SetSource(registry)

	a := &App{
		cfg:      cfg,
		store:    deps.Store,
		metrics:  metrics,
		features: registry,
		loader:   loader,
		users:    users.NewDirectory(deps.Store, cfg.Telegram.AdminIDs),
		usage:    usage.NewTracker(metrics.Registry),
		tr:       tr,
		gen:      aigen.New(registry, deps.Text, time.Duration(cfg.AI.TimeoutMS)*time.Millisecond),
		gate: admission.NewGate(admission.Config{
			Window:       time.Duration(cfg.RateLimit.WindowMS) * time.Millisecond,
			Limit:        cfg.RateLimit.Limit,
			BlockTimeout: time.Duration(cfg.RateLimit.BlockTimeoutMS) * time.Millisecond,
		}),
		states:   states,
		now:      now,
		notifier: deps.Notifier,
		onStop:   deps.OnStop,
	}

	a.router, err = dispatch.NewRouter(dispatch.Options{
		Features: registry,
		Handlers: loader,
		Screens:  a,
		Admins:   a.users,
		Usage:    a.usage.Feature,
		Debug:    cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	a.registerStates()
	return a, nil
}

// Router exposes the callback router.
func (a *App) Router() *dispatch.Router { return a.router }

// Features exposes the feature registry.
func (a *App) Features() *features.Registry { return a.features }

// Start loads persisted state, materializes handlers and starts the background loops.
// Loops stop with ctx.
func (a *App) Start(ctx context.Context) error {
	a.started = a.now()
	if err := a.users.Load(ctx); err != nil {
		return err
	}
	if err := a.usage.Restore(ctx, a.store); err != nil {
		logger.App.Warn("usage restore failed",
			slog.String("event", "app.start"),
			slog.String("err", err.Error()),
		)
	}
	list, err := a.features.List(ctx, features.Filter{})
	if err != nil {
		return err
	}
	a.loader.LoadAll(ctx, list)

	ctx, a.cancel = context.WithCancel(ctx)
	a.bg.Add(3)
	go func() {
		defer a.bg.Done()
		a.usage.Run(ctx, a.store, flushEvery)
	}()
	go func() {
		defer a.bg.Done()
		a.sweep(ctx)
	}()
	go func() {
		defer a.bg.Done()
		if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen); err != nil {
			logger.App.Error("metrics server failed",
				slog.String("event", "telemetry.metrics"),
				slog.String("err", err.Error()),
			)
		}
	}()

	logger.App.Info("app started",
		slog.String("event", "app.start"),
		slog.Int("features", len(list)),
		slog.String("storage", docstore.BackendOf(a.store)),
		slog.Bool("ai", a.gen.AIEnabled()),
	)
	return nil
}

func (a *App) sweep(ctx context.Context) {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.gate.Sweep(a.now()); n > 0 {
				logger.Admission.Debug("gate swept",
					slog.String("event", "admission.sweep"),
					slog.Int("removed", n),
				)
			}
			if n := a.states.Sweep(a.now()); n > 0 {
				logger.App.Debug("stale sessions dropped",
					slog.String("event", "state.sweep"),
					slog.Int("removed", n),
				)
			}
		}
	}
}

// Stop waits for the background loops, flushes usage totals and closes the store.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.bg.Wait()
	if err := a.usage.Flush(context.WithoutCancel(ctx), a.store); err != nil {
		logger.App.Warn("usage flush failed",
			slog.String("event", "app.stop"),
			slog.String("err", err.Error()),
		)
	}
	err := a.store.Close()
	for _, fn := range a.onStop {
		if fn == nil {
			continue
		}
		if stopErr := fn(ctx); stopErr != nil {
			logger.App.Warn("shutdown hook failed",
				slog.String("event", "app.stop"),
				slog.String("err", stopErr.Error()),
			)
		}
	}
	return err
}

func (a *App) setNotifier(n Notifier) {
	a.mu.Lock()
	if a.notifier == nil {
		a.notifier = n
	}
	a.mu.Unlock()
}

func (a *App) currentNotifier() Notifier {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.notifier
}

// botNotifier sends through the outbound dispatcher so fan-out respects the global send rate.
type botNotifier struct {
	bot  *tele.Bot
	disp *sender.Dispatcher
}

func (n botNotifier) Notify(ctx context.Context, userID int64, text string) error {
	run := func() error {
		_, err := n.bot.Send(tele.ChatID(userID), text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		return err
	}
	if n.disp == nil {
		return run()
	}
	return n.disp.Enqueue(ctx, "notify", "sendMessage", run)
}
