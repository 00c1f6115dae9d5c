// Package logger configures log/slog for the bot.
//
// One structured handler renders every record as JSON or key=value text with a
// stable key order, fans it out to stdout and rotating files, and copies
// warnings to a separate errors file. Components log through the scoped
// loggers below; update metadata travels in the context (see Meta).
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/featurebot/core/buildinfo"
	coreconfig "github.com/m3rciful/featurebot/core/config"
)

var (
	mu          sync.Mutex
	initialized bool
	closed      bool
	mainSink    *sink
	errorSink   *sink
	files       []io.Closer

	level       slog.LevelVar
	debugSample = newSampler(1, 50)
	traceAll    bool
)

// Scoped loggers. They point at slog.Default until InitLogger runs.
var (
	L *slog.Logger

	DB        *slog.Logger
	MIG       *slog.Logger
	TG        *slog.Logger
	TWire     *slog.Logger
	Store     *slog.Logger
	Admission *slog.Logger
	Features  *slog.Logger
	Plugins   *slog.Logger
	Dispatch  *slog.Logger
	AIGen     *slog.Logger
	App       *slog.Logger
)

func init() {
	install(slog.Default())
}

func install(base *slog.Logger) {
	L = base
	DB = Component("db")
	MIG = Component("db.migrate")
	TG = Component("tg")
	TWire = Component("tg.wire")
	Store = Component("store")
	Admission = Component("admission")
	Features = Component("features")
	Plugins = Component("plugins")
	Dispatch = Component("dispatch")
	AIGen = Component("aigen")
	App = Component("app")
}

// Component returns L scoped to name.
func Component(name string) *slog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return L
	}
	return L.With("component", name)
}

// InitLogger installs the structured handler described by cfg.Logging and
// makes it the slog default. Calls after the first are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}
	opts := optionsFrom(cfg)

	outs, errOuts, closers := openOutputs(opts)
	mainSink = newSink(append([]io.Writer{os.Stdout}, outs...))
	if len(errOuts) > 0 {
		errorSink = newSink(errOuts)
	}
	files = closers

	level.Set(opts.level)
	debugSample.set(opts.sampleNum, opts.sampleDen)
	traceAll = opts.trace

	var errOut io.Writer
	if errorSink != nil {
		errOut = errorSink
	}
	base := slog.New(newHandler(handlerOptions{
		level:  &level,
		out:    mainSink,
		errOut: errOut,
		format: opts.format,
		order:  opts.order,
		stacks: opts.stacks,
	}))
	slog.SetDefault(base)
	install(base)
	initialized = true

	App.LogAttrs(context.Background(), slog.LevelInfo, "startup",
		slog.String("go_version", runtime.Version()),
		slog.String("version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("profile", opts.profile),
		slog.String("format", string(opts.format)),
	)
	return nil
}

// Shutdown drains the sinks and closes the log files.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if closed || !initialized {
		return nil
	}
	closed = true

	var errs []error
	for _, s := range []*sink{mainSink, errorSink} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	for _, c := range files {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func emit(ctx context.Context, component string, lvl slog.Level, event string, attrs ...slog.Attr) {
	l := FromContext(ctx)
	if component != "" {
		l = Component(component)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.LogAttrs(ctx, lvl, event, attrs...)
}

// Debug logs event for component at debug level.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs event for component at info level.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs event for component at warn level.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs event for component at error level.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelError, event, attrs...)
}

// SampleDebug reports whether a high-volume debug line should be written.
// LOG_TRACE=1 disables sampling.
func SampleDebug() bool {
	return traceAll || debugSample.allow()
}
