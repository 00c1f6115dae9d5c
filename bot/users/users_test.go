package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/settings"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newDir(t *testing.T, admins ...int64) (*Directory, docstore.Store, *clock) {
	t.Helper()
	st := docstore.NewMemoryStore()
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewDirectory(st, admins, WithClock(c.now)), st, c
}

func TestTrackCreatesAndPersists(t *testing.T) {
	d, st, _ := newDir(t, 10)
	ctx := context.Background()

	u, err := d.Track(ctx, Profile{ID: 10, FirstName: "Ada"})
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.Equal(t, settings.Defaults(), u.Settings)

	_, err = d.Track(ctx, Profile{ID: 20, FirstName: "Bob", LastName: "Ray"})
	require.NoError(t, err)

	reloaded := NewDirectory(st, nil)
	got, err := reloaded.Get(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "Bob Ray", got.DisplayName())
	assert.False(t, reloaded.IsAdmin(20))
	assert.True(t, reloaded.IsAdmin(10), "stored admin flag survives without config")
}

func TestAdminsAreConfigUnionStored(t *testing.T) {
	d, _, _ := newDir(t, 1)
	ctx := context.Background()
	_, err := d.Track(ctx, Profile{ID: 2, FirstName: "Eve"})
	require.NoError(t, err)

	assert.True(t, d.IsAdmin(1))
	assert.False(t, d.IsAdmin(2))

	_, err = d.SetAdmin(ctx, 2, true)
	require.NoError(t, err)
	assert.True(t, d.IsAdmin(2))

	_, err = d.SetAdmin(ctx, 1, false)
	assert.Error(t, err)
	_, err = d.SetAdmin(ctx, 99, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePreferencesValidates(t *testing.T) {
	d, _, _ := newDir(t)
	ctx := context.Background()
	_, err := d.Track(ctx, Profile{ID: 5, FirstName: "Kim"})
	require.NoError(t, err)

	u, err := d.UpdatePreferences(ctx, 5, func(p *settings.Preferences) { p.KeyboardStyle = "compact" })
	require.NoError(t, err)
	assert.Equal(t, "compact", u.Settings.KeyboardStyle)

	_, err = d.UpdatePreferences(ctx, 5, func(p *settings.Preferences) { p.Language = "klingon" })
	require.Error(t, err)
	assert.Equal(t, "en", d.Preferences(ctx, 5).Language)
	assert.Equal(t, settings.Defaults(), d.Preferences(ctx, 404))
}

func TestActiveAndOrdering(t *testing.T) {
	d, _, c := newDir(t)
	ctx := context.Background()
	_, err := d.Track(ctx, Profile{ID: 1, FirstName: "Old"})
	require.NoError(t, err)
	c.t = c.t.Add(40 * 24 * time.Hour)
	_, err = d.Track(ctx, Profile{ID: 2, FirstName: "New"})
	require.NoError(t, err)

	all, err := d.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all[0].ID)

	active, err := d.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].ID)
}

func TestCountIgnoresUnknownUsers(t *testing.T) {
	d, _, _ := newDir(t)
	ctx := context.Background()
	require.NoError(t, d.Count(ctx, 42, ActivityCommand))

	_, err := d.Track(ctx, Profile{ID: 42, FirstName: "Zed"})
	require.NoError(t, err)
	require.NoError(t, d.Count(ctx, 42, ActivityCommand))
	require.NoError(t, d.Count(ctx, 42, ActivityCallback))
	require.NoError(t, d.Count(ctx, 42, ActivityCallback))

	u, err := d.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, Stats{Commands: 1, Callbacks: 2}, u.Stats)
}
