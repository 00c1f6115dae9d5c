// Package users tracks the people who talk to the bot and who may administer it.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/settings"
	"github.com/m3rciful/featurebot/core/logger"
)

// DocumentName is the docstore document holding all users.
const DocumentName = "users"

// ErrNotFound reports an unknown user id.
var ErrNotFound = errors.New("users: not found")

// ActiveWindow is how far back Active looks.
const ActiveWindow = 30 * 24 * time.Hour

// touchEvery bounds how often pure activity updates hit the store.
const touchEvery = time.Minute

// Profile is what Telegram tells us about a user.
type Profile struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

// Stats counts what a user did.
type Stats struct {
	Commands  int `json:"commandsUsed"`
	Features  int `json:"featuresUsed"`
	Callbacks int `json:"callbacksTriggered"`
}

// User is a stored user record.
type User struct {
	ID           int64                `json:"id"`
	FirstName    string               `json:"first_name"`
	LastName     string               `json:"last_name,omitempty"`
	Username     string               `json:"username,omitempty"`
	IsAdmin      bool                 `json:"isAdmin"`
	Settings     settings.Preferences `json:"settings"`
	Stats        Stats                `json:"stats"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
	LastActivity time.Time            `json:"lastActivity"`
}

// DisplayName is the first and last name joined.
func (u User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type document struct {
	Users []User `json:"users"`
}

// Activity kinds counted by Count.
type Activity int

const (
	ActivityCommand Activity = iota + 1
	ActivityFeature
	ActivityCallback
)

// Directory keeps the users document in memory and writes it through to the store.
type Directory struct {
	store  docstore.Store
	admins []int64
	now    func() time.Time

	mu     sync.RWMutex
	loaded bool
	byID   map[int64]*User
	order  []int64
}

// Option customizes a Directory.
type Option func(*Directory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory builds a directory. configAdmins always hold admin rights.
func NewDirectory(store docstore.Store, configAdmins []int64, opts ...Option) *Directory {
	d := &Directory{
		store:  store,
		admins: slices.Clone(configAdmins),
		now:    time.Now,
		byID:   make(map[int64]*User),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load reads the users document. Other methods call it lazily.
func (d *Directory) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked(ctx)
}

func (d *Directory) loadLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	var doc document
	if err := docstore.LoadOrInit(ctx, d.store, DocumentName, &doc); err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	d.byID = make(map[int64]*User, len(doc.Users))
	d.order = d.order[:0]
	for i := range doc.Users {
		u := doc.Users[i]
		u.Settings = u.Settings.Normalize()
		d.byID[u.ID] = &u
		d.order = append(d.order, u.ID)
	}
	d.loaded = true
	return nil
}

func (d *Directory) saveLocked(ctx context.Context) error {
	doc := document{Users: make([]User, 0, len(d.order))}
	for _, id := range d.order {
		doc.Users = append(doc.Users, *d.byID[id])
	}
	if err := d.store.Save(ctx, DocumentName, doc); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

func (d *Directory) ensureLoaded(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}
	return d.Load(ctx)
}

// IsAdmin reports whether id is a configured admin or a user promoted with SetAdmin.
func (d *Directory) IsAdmin(id int64) bool {
	if slices.Contains(d.admins, id) {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	return ok && u.IsAdmin
}

// IsConfigAdmin reports whether id comes from configuration and cannot be demoted.
func (d *Directory) IsConfigAdmin(id int64) bool {
	return slices.Contains(d.admins, id)
}

// Track records that p was active, creating the user on first contact.
func (d *Directory) Track(ctx context.Context, p Profile) (User, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return User{}, err
	}
	now := d.now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[p.ID]
	if !ok {
		u = &User{
			ID:           p.ID,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Username:     p.Username,
			IsAdmin:      slices.Contains(d.admins, p.ID),
			Settings:     settings.Defaults(),
			CreatedAt:    now,
			UpdatedAt:    now,
			LastActivity: now,
		}
		d.byID[p.ID] = u
		d.order = append(d.order, p.ID)
		logger.App.Info("new user",
			slog.String("event", "users.new"),
			slog.Int64("user_id", p.ID),
		)
		return *u, d.saveLocked(ctx)
	}

	changed := u.FirstName != p.FirstName || u.LastName != p.LastName || u.Username != p.Username
	if changed {
		u.FirstName, u.LastName, u.Username = p.FirstName, p.LastName, p.Username
		u.UpdatedAt = now
	}
	stale := now.Sub(u.LastActivity) >= touchEvery
	u.LastActivity = now
	if changed || stale {
		return *u, d.saveLocked(ctx)
	}
	return *u, nil
}

// Get returns a user by id.
func (d *Directory) Get(ctx context.Context, id int64) (User, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return *u, nil
}

// Preferences returns the settings of id, or the defaults for unknown users.
func (d *Directory) Preferences(ctx context.Context, id int64) settings.Preferences {
	u, err := d.Get(ctx, id)
	if err != nil {
		return settings.Defaults()
	}
	return u.Settings
}

// All lists users by most recent activity first.
func (d *Directory) All(ctx context.Context) ([]User, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	out := make([]User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.byID[id])
	}
	d.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// Active lists users seen within ActiveWindow.
func (d *Directory) Active(ctx context.Context) ([]User, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := d.now().Add(-ActiveWindow)
	out := all[:0]
	for _, u := range all {
		if u.LastActivity.After(cutoff) {
			out = append(out, u)
		}
	}
	return out, nil
}

// IDs lists every known user id, for broadcasts.
func (d *Directory) IDs(ctx context.Context) ([]int64, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order), nil
}

func (d *Directory) mutate(ctx context.Context, id int64, fn func(u *User) error) (User, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return User{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	prev := *u
	if err := fn(u); err != nil {
		*u = prev
		return User{}, err
	}
	u.UpdatedAt = d.now().UTC()
	if err := d.saveLocked(ctx); err != nil {
		*u = prev
		return User{}, err
	}
	return *u, nil
}

// SetAdmin promotes or demotes a known user.
func (d *Directory) SetAdmin(ctx context.Context, id int64, admin bool) (User, error) {
	if !admin && slices.Contains(d.admins, id) {
		return User{}, fmt.Errorf("users: %d is a configured admin", id)
	}
	u, err := d.mutate(ctx, id, func(u *User) error {
		u.IsAdmin = admin
		return nil
	})
	if err == nil {
		logger.App.Info("admin rights changed",
			slog.String("event", "users.admin"),
			slog.Int64("user_id", id),
			slog.Bool("admin", admin),
		)
	}
	return u, err
}

// UpdatePreferences applies fn to the user's settings. Invalid results are rejected.
func (d *Directory) UpdatePreferences(ctx context.Context, id int64, fn func(p *settings.Preferences)) (User, error) {
	return d.mutate(ctx, id, func(u *User) error {
		next := u.Settings
		fn(&next)
		if next.Normalize() != next {
			return fmt.Errorf("users: invalid preferences %+v", next)
		}
		u.Settings = next
		return nil
	})
}

// Count bumps one of the user's activity counters. Unknown users are ignored.
func (d *Directory) Count(ctx context.Context, id int64, kind Activity) error {
	_, err := d.mutate(ctx, id, func(u *User) error {
		switch kind {
		case ActivityCommand:
			u.Stats.Commands++
		case ActivityFeature:
			u.Stats.Features++
		case ActivityCallback:
			u.Stats.Callbacks++
		}
		u.LastActivity = d.now().UTC()
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
