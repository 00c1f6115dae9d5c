package features

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/docstore"
)

type fakeMaterializer struct {
	mu          sync.Mutex
	materialize []string
	regenerated []string
	removed     []string
	failWith    error
}

func (m *fakeMaterializer) Materialize(_ context.Context, f Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materialize = append(m.materialize, f.ID)
	return m.failWith
}

func (m *fakeMaterializer) Regenerate(_ context.Context, f Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regenerated = append(m.regenerated, f.ID)
	return m.failWith
}

func (m *fakeMaterializer) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	return nil
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func newTestRegistry(t *testing.T) (*Registry, *fakeMaterializer, *stepClock) {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mat := &fakeMaterializer{}
	reg := NewRegistry(docstore.NewMemoryStore(), WithClock(clock.now), WithMaterializer(mat))
	return reg, mat, clock
}

func TestAddStampsDefaults(t *testing.T) {
	reg, mat, clock := newTestRegistry(t)
	ctx := context.Background()

	f, err := reg.Add(ctx, Draft{ID: "weather", Name: "Weather", Description: "Forecasts", Emoji: "🌤"})
	require.NoError(t, err)

	want := Feature{
		ID:          "weather",
		Name:        "Weather",
		Description: "Forecasts",
		Emoji:       "🌤",
		Enabled:     true,
		Submenus:    []Submenu{},
		Actions:     []Action{},
		CreatedAt:   clock.t,
		UpdatedAt:   clock.t,
	}
	if diff := cmp.Diff(want, f); diff != "" {
		t.Fatalf("feature mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"weather"}, mat.materialize)

	got, err := reg.Get(ctx, "weather")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stored feature mismatch (-want +got):\n%s", diff)
	}
}

func TestAddHonoursDisabledDraft(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	f, err := reg.Add(context.Background(), Draft{ID: "x", Name: "X", Description: "d", Enabled: Bool(false)})
	require.NoError(t, err)
	assert.False(t, f.Enabled)
}

func TestAddValidation(t *testing.T) {
	reg, mat, _ := newTestRegistry(t)
	ctx := context.Background()
	cases := map[string]Draft{
		"missing id":   {Name: "n", Description: "d"},
		"missing name": {ID: "a", Description: "d"},
		"missing desc": {ID: "a", Name: "n"},
		"uppercase id": {ID: "Weather", Name: "n", Description: "d"},
		"dash id":      {ID: "my-feature", Name: "n", Description: "d"},
		"bad action id": {ID: "a", Name: "n", Description: "d",
			Actions: []Action{{ID: "Do It!", Name: "Do"}}},
		"duplicate root action": {ID: "a", Name: "n", Description: "d",
			Actions: []Action{{ID: "go", Name: "Go"}, {ID: "go", Name: "Again"}}},
		"duplicate submenu": {ID: "a", Name: "n", Description: "d",
			Submenus: []Submenu{{ID: "s", Name: "S"}, {ID: "s", Name: "T"}}},
		"bad submenu id": {ID: "a", Name: "n", Description: "d",
			Submenus: []Submenu{{ID: "sub menu", Name: "S"}}},
		"duplicate submenu action": {ID: "a", Name: "n", Description: "d",
			Submenus: []Submenu{{ID: "s", Name: "S", Actions: []Action{{ID: "x"}, {ID: "x"}}}}},
		"empty submenu action id": {ID: "a", Name: "n", Description: "d",
			Submenus: []Submenu{{ID: "s", Name: "S", Actions: []Action{{ID: ""}}}}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Add(ctx, d)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	list, err := reg.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, mat.materialize)
}

func TestAddDuplicateLeavesRegistryUnchanged(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Add(ctx, Draft{ID: "x", Name: "First", Description: "d"})
	require.NoError(t, err)

	_, err = reg.Add(ctx, Draft{ID: "x", Name: "Second", Description: "d"})
	require.ErrorIs(t, err, ErrDuplicateID)

	list, err := reg.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "First", list[0].Name)
}

func TestAddKeepsRecordWhenMaterializeFails(t *testing.T) {
	reg, mat, _ := newTestRegistry(t)
	mat.failWith = errors.New("disk full")

	_, err := reg.Add(context.Background(), Draft{ID: "x", Name: "X", Description: "d"})
	require.NoError(t, err)

	_, err = reg.Get(context.Background(), "x")
	require.NoError(t, err)
}

func TestUpdateMonotonicTimestamp(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	ctx := context.Background()
	created, err := reg.Add(ctx, Draft{ID: "x", Name: "X", Description: "d"})
	require.NoError(t, err)

	// clock does not move: updatedAt must still advance
	u1, err := reg.Update(ctx, "x", Patch{Enabled: Bool(false)})
	require.NoError(t, err)
	assert.True(t, u1.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, u1.CreatedAt)
	assert.False(t, u1.Enabled)

	clock.t = clock.t.Add(time.Hour)
	u2, err := reg.Update(ctx, "x", Patch{Name: String("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, clock.t, u2.UpdatedAt)
	assert.Equal(t, "Renamed", u2.Name)
	assert.False(t, u2.Enabled)
	assert.Equal(t, "d", u2.Description)
}

func TestUpdateUnknown(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.Update(context.Background(), "nope", Patch{Enabled: Bool(true)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	reg, mat, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Add(ctx, Draft{ID: "x", Name: "X", Description: "d"})
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "x"))
	assert.Equal(t, []string{"x"}, mat.removed)

	_, err = reg.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, reg.Remove(ctx, "x"), ErrNotFound)
}

func TestListFilterKeepsOrder(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	for _, d := range []Draft{
		{ID: "a", Name: "A", Description: "d"},
		{ID: "b", Name: "B", Description: "d", Enabled: Bool(false)},
		{ID: "c", Name: "C", Description: "d"},
	} {
		_, err := reg.Add(ctx, d)
		require.NoError(t, err)
	}

	ids := func(fs []Feature) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.ID)
		}
		return out
	}
	all, err := reg.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))

	enabled, err := reg.List(ctx, Filter{Enabled: Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(enabled))

	disabled, err := reg.List(ctx, Filter{Enabled: Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(disabled))
}

func TestImport(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	f, err := reg.Import(ctx, []byte(`{"id":"quotes","name":"Quotes","description":"Daily quotes","emoji":"💬",
		"actions":[{"id":"random","name":"Random","description":"A random quote"}]}`))
	require.NoError(t, err)
	assert.True(t, f.Enabled)
	require.Len(t, f.Actions, 1)
	assert.Equal(t, "random", f.Actions[0].ID)

	_, err = reg.Import(ctx, []byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = reg.Import(ctx, []byte(`{"id":"x","name":"X","description":"d"}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = reg.Import(ctx, []byte(`{"id":"quotes","name":"Q","description":"d","emoji":"💬"}`))
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = reg.Import(ctx, []byte(`{"id":"imp","name":"Imp","description":"d","emoji":"📥",
		"actions":[{"id":"Do It!","name":"Do it"}]}`))
	assert.ErrorIs(t, err, ErrValidation)
	_, err = reg.Get(ctx, "imp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSameActionIDInDifferentScopes(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	_, err := reg.Add(context.Background(), Draft{ID: "a", Name: "n", Description: "d",
		Actions:  []Action{{ID: "go", Name: "Go"}},
		Submenus: []Submenu{{ID: "s", Name: "S", Actions: []Action{{ID: "go", Name: "Go"}}}},
	})
	assert.NoError(t, err)
}

func TestUpdateRejectsInvalidLayout(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Add(ctx, Draft{ID: "a", Name: "n", Description: "d", Actions: []Action{{ID: "go", Name: "Go"}}})
	require.NoError(t, err)

	dup := []Action{{ID: "go"}, {ID: "go"}}
	_, err = reg.Update(ctx, "a", Patch{Actions: &dup})
	require.ErrorIs(t, err, ErrValidation)

	got, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []Action{{ID: "go", Name: "Go"}}, got.Actions)
}

func TestSearch(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	for _, d := range []Draft{
		{ID: "weather", Name: "Weather", Description: "Forecasts"},
		{ID: "news", Name: "News", Description: "Headlines and weather alerts"},
		{ID: "hidden", Name: "Weather archive", Description: "old", Enabled: Bool(false)},
	} {
		_, err := reg.Add(ctx, d)
		require.NoError(t, err)
	}

	got, err := reg.Search(ctx, "WEATHER")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "weather", got[0].ID)
	assert.Equal(t, "news", got[1].ID)

	all, err := reg.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFindActionPrefersRoot(t *testing.T) {
	f := Feature{
		Actions: []Action{{ID: "go", Name: "root"}},
		Submenus: []Submenu{
			{ID: "s1", Actions: []Action{{ID: "go", Name: "nested"}, {ID: "deep", Name: "deep"}}},
		},
	}
	a, ok := f.FindAction("go")
	require.True(t, ok)
	assert.Equal(t, "root", a.Name)

	a, ok = f.FindAction("deep")
	require.True(t, ok)
	assert.Equal(t, "deep", a.Name)

	_, ok = f.FindAction("missing")
	assert.False(t, ok)
}

func TestUpdateRegeneratesOnLayoutChange(t *testing.T) {
	reg, mat, clock := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Add(ctx, Draft{ID: "a", Name: "n", Description: "d"})
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Second)
	_, err = reg.Update(ctx, "a", Patch{Name: String("renamed")})
	require.NoError(t, err)
	assert.Empty(t, mat.regenerated)

	acts := []Action{{ID: "go", Name: "Go"}}
	mat.failWith = errors.New("disk full")
	f, err := reg.Update(ctx, "a", Patch{Actions: &acts})
	require.NoError(t, err, "a regeneration failure keeps the update")
	assert.Equal(t, acts, f.Actions)
	assert.Equal(t, []string{"a"}, mat.regenerated)
}
