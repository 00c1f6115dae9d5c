package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/core/logger"
)

type entry struct {
	handler Handler
	path    string
	modTime time.Time
	builtin bool
}

// Loader owns the feature id -> handler map.
type Loader struct {
	dir      string
	source   FeatureSource
	builtins map[string]Factory
	maxSteps uint64
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithBuiltins registers handlers compiled into the binary.
func WithBuiltins(b map[string]Factory) LoaderOption {
	return func(l *Loader) {
		for id, f := range b {
			l.builtins[id] = f
		}
	}
}

// WithSource sets where Init gets feature records from.
func WithSource(src FeatureSource) LoaderOption {
	return func(l *Loader) { l.source = src }
}

// WithMaxSteps bounds each script call.
func WithMaxSteps(n uint64) LoaderOption {
	return func(l *Loader) { l.maxSteps = n }
}

// NewLoader keeps handler modules under dir, creating it if needed.
func NewLoader(dir string, opts ...LoaderOption) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("plugins: handlers dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("plugins: create handlers dir: %w", err)
	}
	l := &Loader{
		dir:      dir,
		builtins: make(map[string]Factory),
		maxSteps: DefaultMaxSteps,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SetSource wires the registry after both sides exist.
func (l *Loader) SetSource(src FeatureSource) {
	l.mu.Lock()
	l.source = src
	l.mu.Unlock()
}

// IsBuiltin reports whether id is served by a compiled-in handler.
func (l *Loader) IsBuiltin(id string) bool {
	_, ok := l.builtins[id]
	return ok
}

func (l *Loader) moduleDir(id string) string {
	return filepath.Join(l.dir, id)
}

// modulePath returns the module file for id. A script takes precedence over a template.
func (l *Loader) modulePath(id string) (string, fs.FileInfo, error) {
	for _, name := range []string{scriptFile, templateFile} {
		p := filepath.Join(l.moduleDir(id), name)
		info, err := os.Stat(p)
		if err == nil {
			return p, info, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, err
		}
	}
	return "", nil, fs.ErrNotExist
}

// Materialize writes a generated handler.yaml for f unless f is built in or already has a module.
func (l *Loader) Materialize(ctx context.Context, f features.Feature) error {
	if l.IsBuiltin(f.ID) {
		return nil
	}
	if _, _, err := l.modulePath(f.ID); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &LoadError{FeatureID: f.ID, Err: err}
	}
	return l.writeTemplate(ctx, f)
}

// Regenerate rewrites the generated module from the current record and drops
// the cached handler so the next lookup serves the new layout.
// Custom scripts are left alone.
func (l *Loader) Regenerate(ctx context.Context, f features.Feature) error {
	if l.IsBuiltin(f.ID) {
		return nil
	}
	if _, err := os.Stat(filepath.Join(l.moduleDir(f.ID), scriptFile)); err == nil {
		logger.Plugins.Info("script module kept",
			slog.String("event", "plugins.regenerate"),
			slog.String("feature_id", f.ID),
		)
		return nil
	}
	if err := l.writeTemplate(ctx, f); err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.entries, f.ID)
	l.mu.Unlock()
	return nil
}

func (l *Loader) writeTemplate(_ context.Context, f features.Feature) error {
	body, err := encodeModule(generateModule(f, l.now()))
	if err != nil {
		return &LoadError{FeatureID: f.ID, Err: err}
	}
	path := filepath.Join(l.moduleDir(f.ID), templateFile)
	if err := writeFileAtomic(path, body); err != nil {
		return &LoadError{FeatureID: f.ID, Path: path, Err: err}
	}
	logger.Plugins.Info("module written",
		slog.String("event", "plugins.materialize"),
		slog.String("feature_id", f.ID),
		slog.String("file", templateFile),
	)
	return nil
}

// WriteScript validates src and stores it as the feature's script module.
func (l *Loader) WriteScript(ctx context.Context, id string, src []byte) error {
	if !features.ValidID(id) {
		return fmt.Errorf("%w: id %q", features.ErrValidation, id)
	}
	if err := ValidateScript(ctx, src); err != nil {
		return &LoadError{FeatureID: id, Path: scriptFile, Err: err}
	}
	path := filepath.Join(l.moduleDir(id), scriptFile)
	if err := writeFileAtomic(path, src); err != nil {
		return &LoadError{FeatureID: id, Path: path, Err: err}
	}
	logger.Plugins.Info("module written",
		slog.String("event", "plugins.script"),
		slog.String("feature_id", id),
		slog.Int("bytes", len(src)),
	)
	return nil
}

func writeFileAtomic(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (l *Loader) feature(ctx context.Context, id string) features.Feature {
	l.mu.RLock()
	src := l.source
	l.mu.RUnlock()
	if src == nil {
		return features.Feature{ID: id}
	}
	f, err := src.Get(ctx, id)
	if err != nil {
		return features.Feature{ID: id}
	}
	return f
}

// Reload rebuilds the handler for id from its module, runs Init and replaces the cached entry.
func (l *Loader) Reload(ctx context.Context, id string) (Handler, error) {
	start := time.Now()
	e, err := l.build(ctx, id)
	if err != nil {
		logger.Plugins.Error("handler load failed",
			slog.String("event", "plugins.load"),
			slog.String("feature_id", id),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	l.mu.Lock()
	l.entries[id] = e
	l.mu.Unlock()

	logger.Plugins.Info("handler loaded",
		slog.String("event", "plugins.load"),
		slog.String("feature_id", id),
		slog.Bool("builtin", e.builtin),
		slog.String("file", filepath.Base(e.path)),
		slog.Duration("duration", time.Since(start)),
	)
	return e.handler, nil
}

func (l *Loader) build(ctx context.Context, id string) (*entry, error) {
	var e *entry
	if factory, ok := l.builtins[id]; ok {
		e = &entry{handler: factory(), builtin: true}
	} else {
		path, info, err := l.modulePath(id)
		if err != nil {
			return nil, &LoadError{FeatureID: id, Err: err}
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{FeatureID: id, Path: path, Err: err}
		}
		var h Handler
		if filepath.Base(path) == scriptFile {
			h, err = compileScript(ctx, id, path, body, l.maxSteps)
		} else {
			var m module
			m, err = decodeModule(body)
			if err == nil {
				h = newTemplateHandler(m)
			}
		}
		if err != nil {
			return nil, &LoadError{FeatureID: id, Path: path, Err: err}
		}
		e = &entry{handler: h, path: path, modTime: info.ModTime()}
	}

	if ini, ok := e.handler.(Initializer); ok {
		if err := ini.Init(ctx, l.feature(ctx, id)); err != nil {
			return nil, &LoadError{FeatureID: id, Path: e.path, Err: fmt.Errorf("init: %w", err)}
		}
	}
	return e, nil
}

// Handler returns the cached handler for id, reloading it when its module file changed.
func (l *Loader) Handler(ctx context.Context, id string) (Handler, error) {
	l.mu.RLock()
	e := l.entries[id]
	l.mu.RUnlock()

	if e != nil && e.builtin {
		return e.handler, nil
	}
	if e != nil {
		path, info, err := l.modulePath(id)
		if err == nil && path == e.path && info.ModTime().Equal(e.modTime) {
			return e.handler, nil
		}
		if err == nil {
			logger.Plugins.Info("module changed, reloading",
				slog.String("event", "plugins.hot_reload"),
				slog.String("feature_id", id),
			)
		}
	}
	return l.Reload(ctx, id)
}

// Remove forgets the handler and deletes its module directory.
func (l *Loader) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()

	if l.IsBuiltin(id) || !features.ValidID(id) {
		return nil
	}
	if err := os.RemoveAll(l.moduleDir(id)); err != nil {
		return fmt.Errorf("plugins: remove module %s: %w", id, err)
	}
	logger.Plugins.Info("module removed",
		slog.String("event", "plugins.remove"),
		slog.String("feature_id", id),
	)
	return nil
}

// LoadAll materializes and loads every enabled feature. One failure never stops the rest;
// it returns the number of loaded handlers.
func (l *Loader) LoadAll(ctx context.Context, list []features.Feature) int {
	loaded := 0
	for _, f := range list {
		if !f.Enabled {
			continue
		}
		if err := l.Materialize(ctx, f); err != nil {
			logger.Plugins.Error("materialize failed",
				slog.String("event", "plugins.load_all"),
				slog.String("feature_id", f.ID),
				slog.String("err", err.Error()),
			)
			continue
		}
		if _, err := l.Reload(ctx, f.ID); err != nil {
			continue
		}
		loaded++
	}
	logger.Plugins.Info("handlers loaded",
		slog.String("event", "plugins.load_all"),
		slog.Int("loaded", loaded),
		slog.Int("features", len(list)),
	)
	return loaded
}

// Loaded lists the ids with a cached handler, for diagnostics.
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	return ids
}
