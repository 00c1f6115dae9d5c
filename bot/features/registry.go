package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/core/logger"
)

// DocumentName is the docstore document holding the registry.
const DocumentName = "features"

// ErrInvalidJSON reports an Import payload that is not a JSON object.
var ErrInvalidJSON = fmt.Errorf("%w: invalid json", ErrValidation)

// Materializer keeps handler modules in step with registry records.
// Regenerate rewrites a generated module after the feature's layout changed.
type Materializer interface {
	Materialize(ctx context.Context, f Feature) error
	Regenerate(ctx context.Context, f Feature) error
	Remove(ctx context.Context, id string) error
}

type document struct {
	Features []Feature `json:"features"`
}

// Registry is the persistent feature catalog.
// Read-modify-write cycles are serialized by a process mutex; across
// processes the store is last-write-wins.
type Registry struct {
	store docstore.Store
	now   func() time.Time

	mu  sync.Mutex
	mat Materializer
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMaterializer sets the handler materializer at construction.
func WithMaterializer(m Materializer) Option {
	return func(r *Registry) { r.mat = m }
}

// NewRegistry builds a registry over store.
func NewRegistry(store docstore.Store, opts ...Option) *Registry {
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMaterializer wires the plugin loader after both sides are built.
func (r *Registry) SetMaterializer(m Materializer) {
	r.mu.Lock()
	r.mat = m
	r.mu.Unlock()
}

func (r *Registry) load(ctx context.Context) (document, error) {
	var doc document
	if err := docstore.LoadOrInit(ctx, r.store, DocumentName, &doc); err != nil {
		return document{}, fmt.Errorf("load features: %w", err)
	}
	return doc, nil
}

func (r *Registry) save(ctx context.Context, doc document) error {
	if doc.Features == nil {
		doc.Features = []Feature{}
	}
	if err := r.store.Save(ctx, DocumentName, doc); err != nil {
		return fmt.Errorf("save features: %w", err)
	}
	return nil
}

func indexOf(doc document, id string) int {
	for i, f := range doc.Features {
		if f.ID == id {
			return i
		}
	}
	return -1
}

// Add validates d, stamps timestamps and persists a new feature.
// Materialization runs afterwards; its failure is logged and the record stays.
func (r *Registry) Add(ctx context.Context, d Draft) (Feature, error) {
	if err := d.validate(); err != nil {
		return Feature{}, err
	}

	r.mu.Lock()
	doc, err := r.load(ctx)
	if err != nil {
		r.mu.Unlock()
		return Feature{}, err
	}
	if indexOf(doc, d.ID) >= 0 {
		r.mu.Unlock()
		return Feature{}, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
	}

	now := r.now().UTC()
	f := Feature{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Emoji:       d.Emoji,
		Enabled:     true,
		Submenus:    d.Submenus,
		Actions:     d.Actions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.Enabled != nil {
		f.Enabled = *d.Enabled
	}
	if f.Submenus == nil {
		f.Submenus = []Submenu{}
	}
	if f.Actions == nil {
		f.Actions = []Action{}
	}
	doc.Features = append(doc.Features, f)
	if err := r.save(ctx, doc); err != nil {
		r.mu.Unlock()
		return Feature{}, err
	}
	mat := r.mat
	r.mu.Unlock()

	logger.Features.Info("feature added",
		slog.String("event", "features.add"),
		slog.String("feature_id", f.ID),
		slog.Bool("enabled", f.Enabled),
	)

	if mat != nil {
		if err := mat.Materialize(ctx, f.clone()); err != nil {
			logger.Features.Error("materialize failed",
				slog.String("event", "features.materialize"),
				slog.String("feature_id", f.ID),
				slog.String("err", err.Error()),
			)
		}
	}
	return f.clone(), nil
}

// Update merges the non-nil fields of p into the feature and bumps updatedAt.
// A patch that replaces actions or submenus regenerates the handler module;
// a failure there is logged and the update stays.
func (r *Registry) Update(ctx context.Context, id string, p Patch) (Feature, error) {
	f, mat, err := r.update(ctx, id, p)
	if err != nil {
		return Feature{}, err
	}
	if mat != nil && (p.Actions != nil || p.Submenus != nil) {
		if err := mat.Regenerate(ctx, f.clone()); err != nil {
			logger.Features.Error("regenerate failed",
				slog.String("event", "features.regenerate"),
				slog.String("feature_id", id),
				slog.String("err", err.Error()),
			)
		}
	}
	return f, nil
}

func (r *Registry) update(ctx context.Context, id string, p Patch) (Feature, Materializer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load(ctx)
	if err != nil {
		return Feature{}, nil, err
	}
	i := indexOf(doc, id)
	if i < 0 {
		return Feature{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	f := doc.Features[i]
	if p.Submenus != nil || p.Actions != nil {
		subs, acts := f.Submenus, f.Actions
		if p.Submenus != nil {
			subs = *p.Submenus
		}
		if p.Actions != nil {
			acts = *p.Actions
		}
		if err := validateLayout(subs, acts); err != nil {
			return Feature{}, nil, err
		}
	}
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Emoji != nil {
		f.Emoji = *p.Emoji
	}
	if p.Enabled != nil {
		f.Enabled = *p.Enabled
	}
	if p.Submenus != nil {
		f.Submenus = append([]Submenu{}, (*p.Submenus)...)
	}
	if p.Actions != nil {
		f.Actions = append([]Action{}, (*p.Actions)...)
	}

	now := r.now().UTC()
	if !now.After(f.UpdatedAt) {
		now = f.UpdatedAt.Add(time.Millisecond)
	}
	f.UpdatedAt = now
	doc.Features[i] = f

	if err := r.save(ctx, doc); err != nil {
		return Feature{}, nil, err
	}
	logger.Features.Info("feature updated",
		slog.String("event", "features.update"),
		slog.String("feature_id", id),
		slog.Bool("enabled", f.Enabled),
	)
	return f.clone(), r.mat, nil
}

// Remove deletes the record, then asks the materializer to drop its handler module.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	doc, err := r.load(ctx)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	i := indexOf(doc, id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	doc.Features = append(doc.Features[:i], doc.Features[i+1:]...)
	if err := r.save(ctx, doc); err != nil {
		r.mu.Unlock()
		return err
	}
	mat := r.mat
	r.mu.Unlock()

	logger.Features.Info("feature removed",
		slog.String("event", "features.remove"),
		slog.String("feature_id", id),
	)
	if mat != nil {
		if err := mat.Remove(ctx, id); err != nil {
			logger.Features.Warn("handler removal failed",
				slog.String("event", "features.remove"),
				slog.String("feature_id", id),
				slog.String("err", err.Error()),
			)
		}
	}
	return nil
}

// Get returns the feature or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Feature, error) {
	r.mu.Lock()
	doc, err := r.load(ctx)
	r.mu.Unlock()
	if err != nil {
		return Feature{}, err
	}
	i := indexOf(doc, id)
	if i < 0 {
		return Feature{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.Features[i].clone(), nil
}

// List returns features in registry order, optionally filtered by Enabled.
func (r *Registry) List(ctx context.Context, flt Filter) ([]Feature, error) {
	r.mu.Lock()
	doc, err := r.load(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Feature, 0, len(doc.Features))
	for _, f := range doc.Features {
		if flt.Enabled != nil && f.Enabled != *flt.Enabled {
			continue
		}
		out = append(out, f.clone())
	}
	return out, nil
}

// Import parses a JSON feature definition and adds it.
// id, name, description and emoji are required.
func (r *Registry) Import(ctx context.Context, payload []byte) (Feature, error) {
	var d Draft
	if err := json.Unmarshal(payload, &d); err != nil {
		return Feature{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if strings.TrimSpace(d.Emoji) == "" {
		if err := d.validate(); err != nil {
			return Feature{}, err
		}
		return Feature{}, fmt.Errorf("%w: missing emoji", ErrValidation)
	}
	return r.Add(ctx, d)
}

// Search returns enabled features whose id, name or description contains q,
// case-insensitively. An empty q returns every enabled feature.
func (r *Registry) Search(ctx context.Context, q string) ([]Feature, error) {
	all, err := r.List(ctx, Filter{Enabled: Bool(true)})
	if err != nil {
		return nil, err
	}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return all, nil
	}
	out := all[:0]
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.ID), q) ||
			strings.Contains(strings.ToLower(f.Name), q) ||
			strings.Contains(strings.ToLower(f.Description), q) {
			out = append(out, f)
		}
	}
	return out, nil
}
