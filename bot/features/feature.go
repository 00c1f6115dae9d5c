// Package features holds the feature registry: the persistent catalog of
// user-facing features, their submenus and actions.
package features

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrValidation reports a malformed feature record or draft.
	ErrValidation = errors.New("features: validation failed")
	// ErrNotFound reports a lookup of an unknown feature id.
	ErrNotFound = errors.New("features: not found")
	// ErrDuplicateID reports an Add for an id that already exists.
	ErrDuplicateID = errors.New("features: duplicate id")
)

var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Action is a leaf operation of a feature or submenu.
type Action struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Emoji       string `json:"emoji,omitempty" yaml:"emoji,omitempty"`
}

// Submenu groups actions under a feature.
type Submenu struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Emoji       string   `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Actions     []Action `json:"actions" yaml:"actions"`
}

// Feature is a registry record.
type Feature struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Emoji       string    `json:"emoji"`
	Enabled     bool      `json:"enabled"`
	Submenus    []Submenu `json:"submenus"`
	Actions     []Action  `json:"actions"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Title renders "emoji name", or just the name when no emoji is set.
func (f Feature) Title() string {
	if f.Emoji == "" {
		return f.Name
	}
	return f.Emoji + " " + f.Name
}

// Submenu returns the submenu with the given id.
func (f Feature) Submenu(id string) (Submenu, bool) {
	for _, s := range f.Submenus {
		if s.ID == id {
			return s, true
		}
	}
	return Submenu{}, false
}

// FindAction searches root actions first, then every submenu in order.
// The first match wins.
func (f Feature) FindAction(id string) (Action, bool) {
	for _, a := range f.Actions {
		if a.ID == id {
			return a, true
		}
	}
	for _, s := range f.Submenus {
		for _, a := range s.Actions {
			if a.ID == id {
				return a, true
			}
		}
	}
	return Action{}, false
}

// Draft is the input of Add. Enabled defaults to true when nil.
type Draft struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Emoji       string    `json:"emoji"`
	Enabled     *bool     `json:"enabled,omitempty"`
	Submenus    []Submenu `json:"submenus,omitempty"`
	Actions     []Action  `json:"actions,omitempty"`
}

// Patch carries the fields Update overwrites; nil fields are kept.
type Patch struct {
	Name        *string
	Description *string
	Emoji       *string
	Enabled     *bool
	Submenus    *[]Submenu
	Actions     *[]Action
}

// Filter narrows List. A nil Enabled lists everything.
type Filter struct {
	Enabled *bool
}

// Bool is a small helper for optional flags.
func Bool(v bool) *bool { return &v }

// String is a small helper for optional strings.
func String(v string) *string { return &v }

// ValidID reports whether id matches the feature id charset.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func (d Draft) validate() error {
	var missing []string
	if strings.TrimSpace(d.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if !ValidID(d.ID) {
		return fmt.Errorf("%w: id %q must match [a-z0-9_]+", ErrValidation, d.ID)
	}
	return validateLayout(d.Submenus, d.Actions)
}

// validateLayout checks submenu and action ids: each must match the id
// charset and be unique within its scope (the feature root, the submenu
// list, or one submenu's actions).
func validateLayout(submenus []Submenu, actions []Action) error {
	if err := uniqueIDs("action", len(actions), func(i int) string { return actions[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("submenu", len(submenus), func(i int) string { return submenus[i].ID }); err != nil {
		return err
	}
	for _, sub := range submenus {
		acts := sub.Actions
		if err := uniqueIDs("action in submenu "+sub.ID, len(acts), func(i int) string { return acts[i].ID }); err != nil {
			return err
		}
	}
	return nil
}

func uniqueIDs(scope string, n int, id func(int) string) error {
	seen := make(map[string]struct{}, n)
	for i := range n {
		v := id(i)
		if !ValidID(v) {
			return fmt.Errorf("%w: %s id %q must match [a-z0-9_]+", ErrValidation, scope, v)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: duplicate %s id %q", ErrValidation, scope, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func (f Feature) clone() Feature {
	out := f
	out.Actions = append([]Action{}, f.Actions...)
	out.Submenus = make([]Submenu, len(f.Submenus))
	for i, s := range f.Submenus {
		s.Actions = append([]Action{}, s.Actions...)
		out.Submenus[i] = s
	}
	return out
}
