package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/aigen"
	"github.com/m3rciful/featurebot/bot/dispatch"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/core/telegram/state"
)

const weatherInfo = "ID: weather\nName: Weather Forecast\nDescription: Get weather forecasts\nEmoji: 🌤"

func TestFeatureGenPrompts(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	conv := &fakeConv{id: adminID}

	require.NoError(t, a.FeatureGen(ctx, conv, dispatch.GenTemplate))
	assert.Equal(t, StateTemplateInfo, a.states.GetState(adminID))
	assert.Equal(t, genPrompts[dispatch.GenTemplate], conv.last(t).Text)

	require.NoError(t, a.FeatureGen(ctx, conv, dispatch.GenAI))
	assert.Contains(t, conv.last(t).Text, "AI generation is not configured")
	assert.Equal(t, StateTemplateInfo, a.states.GetState(adminID), "a disabled mode leaves the state alone")

	require.NoError(t, a.FeatureGen(ctx, conv, "magic"))
	assert.Equal(t, []string{"Unknown feature generation method: magic"}, conv.answers)
}

func TestTemplateInfoCreatesFeature(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	conv := &fakeConv{id: adminID}
	a.states.SetState(adminID, StateTemplateInfo)

	require.NoError(t, a.templateInfo(ctx, conv, "hello"))
	assert.Equal(t, msgInvalidTemplate, conv.last(t).Text)
	assert.Equal(t, StateTemplateInfo, a.states.GetState(adminID))

	require.NoError(t, a.templateInfo(ctx, conv, weatherInfo))
	f, err := a.features.Get(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, "Weather Forecast", f.Name)
	require.Len(t, f.Actions, 1)
	assert.Equal(t, "get_started", f.Actions[0].ID)
	assert.Equal(t, state.StateIdle, a.states.GetState(adminID))
	assert.Contains(t, conv.last(t).Text, `Feature "Weather Forecast" created successfully`)

	require.NoError(t, a.templateInfo(ctx, conv, weatherInfo))
	assert.Equal(t, duplicateText("weather"), conv.last(t).Text)
}

func TestTemplateInfoRejectsDashedID(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	conv := &fakeConv{id: adminID}
	a.states.SetState(adminID, StateTemplateInfo)

	require.NoError(t, a.templateInfo(ctx, conv, "ID: my-feature\nName: Mine\nDescription: d\nEmoji: 🎯"))
	assert.Contains(t, conv.last(t).Text, `"my-feature"`)
	_, err := a.features.Get(ctx, "my")
	assert.ErrorIs(t, err, features.ErrNotFound)
	assert.Equal(t, StateTemplateInfo, a.states.GetState(adminID))
}

type scriptedText struct{ out string }

func (s scriptedText) Generate(context.Context, string, string) (string, error) { return s.out, nil }

func TestAIDescription(t *testing.T) {
	a := newTestApp(t, nil)
	a.gen = aigen.New(a.features, scriptedText{out: "```json\n" +
		`{"id":"recipes","name":"Recipes","description":"Find recipes by ingredient","emoji":"🍳",` +
		`"actions":[{"id":"random","name":"Random","description":"A random recipe","emoji":"🎲"}]}` +
		"\n```"}, 0)
	ctx := context.Background()
	conv := &fakeConv{id: adminID}
	a.states.SetState(adminID, StateAIDescription)

	require.NoError(t, a.aiDescription(ctx, conv, "short"))
	assert.Equal(t, msgShortDesc, conv.last(t).Text)

	require.NoError(t, a.aiDescription(ctx, conv, "A feature that finds recipes by the ingredients you have at home"))
	f, err := a.features.Get(ctx, "recipes")
	require.NoError(t, err)
	assert.Equal(t, "🍳", f.Emoji)
	assert.Equal(t, state.StateIdle, a.states.GetState(adminID))
}

func TestImportJSON(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	conv := &fakeConv{id: adminID}
	a.states.SetState(adminID, StateJSONImport)

	require.NoError(t, a.importText(ctx, conv, "{not json"))
	assert.Equal(t, msgInvalidJSON, conv.last(t).Text)

	require.NoError(t, a.importText(ctx, conv, `{"id":"quotes","name":"Quotes","description":"Daily quotes"}`))
	assert.Contains(t, conv.last(t).Text, msgInvalidImport)
	assert.Equal(t, StateJSONImport, a.states.GetState(adminID))

	body := `{"id":"quotes","name":"Quotes","description":"Daily quotes","emoji":"💬","enabled":false}`
	require.NoError(t, a.importText(ctx, conv, body))
	f, err := a.features.Get(ctx, "quotes")
	require.NoError(t, err)
	assert.False(t, f.Enabled)
	assert.Equal(t, state.StateIdle, a.states.GetState(adminID))

	require.NoError(t, a.importText(ctx, conv, body))
	assert.Equal(t, duplicateText("quotes"), conv.last(t).Text)
}

const greeterScript = "```python\n" + `def handle_action(action, feature):
    reply("hi from " + feature.name)
    return True
` + "```"

func TestCustomCodeFlow(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	conv := &fakeConv{id: adminID}
	a.states.SetState(adminID, StateCustomInfo)

	require.NoError(t, a.customInfo(ctx, conv, "ID: greeter\nName: Greeter\nDescription: Says hi\nEmoji: 👋"))
	assert.Equal(t, StateCustomCode, a.states.GetState(adminID))
	assert.Equal(t, customCodePrompt, conv.last(t).Text)

	require.NoError(t, a.customCode(ctx, conv, "def broken(:"))
	assert.Contains(t, conv.last(t).Text, "The code could not be loaded")
	assert.Equal(t, StateCustomCode, a.states.GetState(adminID))
	_, err := a.features.Get(ctx, "greeter")
	assert.Error(t, err)

	require.NoError(t, a.customCode(ctx, conv, greeterScript))
	assert.Contains(t, conv.last(t).Text, "created successfully with custom code")
	assert.Equal(t, state.StateIdle, a.states.GetState(adminID))
	assert.Contains(t, a.loader.Loaded(), "greeter")

	f, err := a.features.Get(ctx, "greeter")
	require.NoError(t, err)
	assert.Empty(t, f.Actions)
	h, err := a.loader.Handler(ctx, "greeter")
	require.NoError(t, err)
	user := &fakeConv{id: userID}
	ok, err := h.HandleAction(ctx, user, features.Action{ID: "hello", Name: "Hello"}, f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi from Greeter", user.last(t).Text)
}

func TestCustomCodeWithoutInfo(t *testing.T) {
	a := newTestApp(t, nil)
	conv := &fakeConv{id: adminID}
	a.states.SetState(adminID, StateCustomCode)
	require.NoError(t, a.customCode(context.Background(), conv, "def handle_action(a, f):\n    return True\n"))
	assert.Contains(t, conv.last(t).Text, "Feature information not found")
	assert.Equal(t, state.StateIdle, a.states.GetState(adminID))
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"x = 1", "x = 1"},
		{"```\nx = 1\n```", "x = 1"},
		{"```python\nx = 1\ny = 2\n```", "x = 1\ny = 2"},
		{"  ```py\nx = 1\n```  ", "x = 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripFence(tt.in), tt.in)
	}
}
