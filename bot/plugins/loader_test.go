package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/features"
)

func weatherFeature() features.Feature {
	return features.Feature{
		ID:          "weather",
		Name:        "Weather",
		Description: "Forecasts",
		Emoji:       "🌤",
		Enabled:     true,
		Actions:     []features.Action{{ID: "today", Name: "Today", Description: "Forecast for today"}},
		Submenus: []features.Submenu{{
			ID:          "cities",
			Name:        "Cities",
			Description: "Pick a city",
			Actions: []features.Action{
				{ID: "paris", Name: "Paris", Description: "Paris weather", Emoji: "🇫🇷"},
				{ID: "rome", Name: "Rome"},
			},
		}},
	}
}

func newTestLoader(t *testing.T, opts ...LoaderOption) *Loader {
	t.Helper()
	l, err := NewLoader(t.TempDir(), opts...)
	require.NoError(t, err)
	return l
}

func TestMaterializeWritesTemplateOnce(t *testing.T) {
	l := newTestLoader(t)
	ctx := context.Background()
	f := weatherFeature()

	require.NoError(t, l.Materialize(ctx, f))
	path := filepath.Join(l.dir, "weather", templateFile)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	f.Actions = nil
	require.NoError(t, l.Materialize(ctx, f))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	require.NoError(t, l.Regenerate(ctx, f))
	third, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := decodeModule(third)
	require.NoError(t, err)
	assert.Empty(t, m.Actions)
}

func TestTemplateHandlerActions(t *testing.T) {
	l := newTestLoader(t)
	ctx := context.Background()
	f := weatherFeature()
	require.NoError(t, l.Materialize(ctx, f))

	h, err := l.Handler(ctx, "weather")
	require.NoError(t, err)

	conv := &fakeConv{id: 1}
	ok, err := h.HandleAction(ctx, conv, f.Actions[0], f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"🎯 *Today*\n\nForecast for today\n\n" + generatedTip}, conv.texts())

	conv = &fakeConv{id: 1}
	ok, err = h.HandleAction(ctx, conv, features.Action{ID: "rome"}, f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"📋 *Cities* > *Rome*\n\n" + noDescription}, conv.texts())

	ok, err = h.HandleAction(ctx, &fakeConv{}, features.Action{ID: "unknown"}, f)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTemplateHandlerCallbacks(t *testing.T) {
	l := newTestLoader(t)
	ctx := context.Background()
	require.NoError(t, l.Materialize(ctx, weatherFeature()))
	h, err := l.Handler(ctx, "weather")
	require.NoError(t, err)

	conv := &fakeConv{}
	ok, err := h.HandleCallback(ctx, conv, "news:cities")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, conv.sent)

	ok, err = h.HandleCallback(ctx, conv, "weather:cities")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, conv.sent, 1)
	want := Keyboard{{
		{Text: "🇫🇷 Paris", Data: "weather:cities:paris"},
		{Text: "⚙️ Rome", Data: "weather:cities:rome"},
		{Text: "🔙 Back", Data: "feature:weather"},
	}}
	if diff := cmp.Diff(want, conv.sent[0].KB); diff != "" {
		t.Fatalf("submenu keyboard (-want +got):\n%s", diff)
	}
	assert.True(t, conv.sent[0].Edit)
	assert.Equal(t, "🎯 *Cities*\n\nPick a city\n\nSelect an option:", conv.sent[0].Text)

	conv = &fakeConv{}
	ok, err = h.HandleCallback(ctx, conv, "weather:cities:paris")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"📋 *Cities* > *Paris*\n\nParis weather"}, conv.texts())

	conv = &fakeConv{}
	ok, err = h.HandleCallback(ctx, conv, "weather:nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"Unknown action"}, conv.answers)
}

func TestSubmenuFallsBackToSendWhenEditFails(t *testing.T) {
	l := newTestLoader(t)
	ctx := context.Background()
	require.NoError(t, l.Materialize(ctx, weatherFeature()))
	h, err := l.Handler(ctx, "weather")
	require.NoError(t, err)

	conv := &fakeConv{editErr: errors.New("message is not modified")}
	ok, err := h.HandleCallback(ctx, conv, "weather:cities")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, conv.sent, 1)
	assert.False(t, conv.sent[0].Edit)
}

func TestHandlerMissingModule(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.Handler(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerLoad)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "ghost", le.FeatureID)
}

func TestHandlerHotReload(t *testing.T) {
	l := newTestLoader(t)
	ctx := context.Background()
	require.NoError(t, l.WriteScript(ctx, "greet", []byte(`
def handle_callback(token):
    reply("v1")
`)))
	h, err := l.Handler(ctx, "greet")
	require.NoError(t, err)
	conv := &fakeConv{}
	_, err = h.HandleCallback(ctx, conv, "greet:x")
	require.NoError(t, err)

	path := filepath.Join(l.dir, "greet", scriptFile)
	require.NoError(t, os.WriteFile(path, []byte(`
def handle_callback(token):
    reply("v2")
`), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	h2, err := l.Handler(ctx, "greet")
	require.NoError(t, err)
	_, err = h2.HandleCallback(ctx, conv, "greet:x")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, conv.texts())

	h3, err := l.Handler(ctx, "greet")
	require.NoError(t, err)
	assert.Same(t, h2, h3)
}

func TestRemoveDeletesModule(t *testing.T) {
	l := newTestLoader(t)
	ctx := context.Background()
	require.NoError(t, l.Materialize(ctx, weatherFeature()))
	_, err := l.Handler(ctx, "weather")
	require.NoError(t, err)

	require.NoError(t, l.Remove(ctx, "weather"))
	_, err = os.Stat(filepath.Join(l.dir, "weather"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, l.Loaded())
}

func TestLoadAllSkipsFailures(t *testing.T) {
	l := newTestLoader(t, WithBuiltins(DefaultBuiltins(nil)))
	ctx := context.Background()

	// a broken script must not stop the others
	require.NoError(t, os.MkdirAll(filepath.Join(l.dir, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.dir, "broken", scriptFile), []byte("def (:"), 0o644))

	list := []features.Feature{
		{ID: "broken", Name: "Broken", Enabled: true},
		weatherFeature(),
		{ID: "ping", Name: "Ping", Enabled: true},
		{ID: "off", Name: "Off", Enabled: false},
	}
	assert.Equal(t, 2, l.LoadAll(ctx, list))
	assert.ElementsMatch(t, []string{"weather", "ping"}, l.Loaded())

	_, err := os.Stat(filepath.Join(l.dir, "off"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(l.dir, "ping"))
	assert.True(t, os.IsNotExist(err))
}

func TestRows(t *testing.T) {
	b := []Button{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	assert.Equal(t, Keyboard{{{Text: "a"}, {Text: "b"}}, {{Text: "c"}}}, Rows(b, 2))
	assert.Len(t, Rows(b, 0), 3)
	assert.Nil(t, Rows(nil, 2))
}
