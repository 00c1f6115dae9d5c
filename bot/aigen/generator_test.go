package aigen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/features"
)

type fakeText struct {
	out    string
	err    error
	block  bool
	system string
	prompt string
}

func (f *fakeText) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.out, f.err
}

func newRegistry() *features.Registry {
	return features.NewRegistry(docstore.NewMemoryStore())
}

func TestParseTemplateInfo(t *testing.T) {
	info, err := ParseTemplateInfo("ID: Weather\nName: Weather Forecast\nDescription: Get weather forecasts for any location\nEmoji: 🌤")
	require.NoError(t, err)
	want := TemplateInfo{
		ID:          "weather",
		Name:        "Weather Forecast",
		Description: "Get weather forecasts for any location",
		Emoji:       "🌤",
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Fatalf("template info mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseTemplateInfo("id: weather\nname: Weather")
	assert.ErrorIs(t, err, ErrTemplateFormat)
}

func TestParseTemplateInfoRejectsPartialID(t *testing.T) {
	for _, id := range []string{"my-feature", "two words", "café"} {
		t.Run(id, func(t *testing.T) {
			_, err := ParseTemplateInfo("ID: " + id + "\nName: N\nDescription: D\nEmoji: 🎯")
			assert.ErrorIs(t, err, features.ErrValidation)
		})
	}

	info, err := ParseTemplateInfo("Name: N\nDescription: mentions ID: other\nID: my_feature \nEmoji: 🎯")
	require.NoError(t, err)
	assert.Equal(t, "my_feature", info.ID)
}

func TestFromTemplateAddsGetStarted(t *testing.T) {
	reg := newRegistry()
	g := New(reg, nil, 0)

	f, err := g.FromTemplate(context.Background(), TemplateInfo{ID: "notes", Name: "Notes", Description: "Keep notes"})
	require.NoError(t, err)
	assert.Equal(t, DefaultEmoji, f.Emoji)
	assert.True(t, f.Enabled)
	require.Len(t, f.Actions, 1)
	assert.Equal(t, features.Action{ID: "get_started", Name: "Get Started", Description: "Start using this feature", Emoji: "▶️"}, f.Actions[0])

	_, err = g.FromTemplate(context.Background(), TemplateInfo{ID: "notes", Name: "Notes", Description: "Again"})
	assert.ErrorIs(t, err, features.ErrDuplicateID)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"bare":       `{"id":"a"}`,
		"fenced":     "Here you go:\n```json\n{\"id\":\"a\"}\n```\nEnjoy",
		"plainfence": "```\n{\"id\":\"a\"}\n```",
		"chatter":    `Sure! {"id":"a"} hope it helps`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, `{"id":"a"}`, ExtractJSON(in))
		})
	}
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "my_cool_feature_", SanitizeID("My Cool-Feature!"))
	assert.Equal(t, "ok_1", SanitizeID("ok_1"))
}

func TestFromDescriptionAddsSanitizedFeature(t *testing.T) {
	reg := newRegistry()
	text := &fakeText{out: "```json\n" + `{
  "id": "Recipe Finder",
  "name": "Recipe Finder",
  "description": "Find recipes by ingredient",
  "emoji": "🍳",
  "submenus": [{"id": "By-Diet", "name": "By diet", "description": "Filter", "actions": [{"id": "Vegan", "name": "Vegan", "description": "Vegan recipes"}]}],
  "actions": [{"id": "random", "name": "Random", "description": "A random recipe"}]
}` + "\n```"}
	g := New(reg, text, time.Second)

	f, err := g.FromDescription(context.Background(), "a bot that finds recipes from what is in my fridge")
	require.NoError(t, err)
	assert.Equal(t, "recipe_finder", f.ID)
	assert.Equal(t, "by_diet", f.Submenus[0].ID)
	assert.Equal(t, "vegan", f.Submenus[0].Actions[0].ID)
	assert.Equal(t, systemPrompt, text.system)
	assert.Contains(t, text.prompt, "finds recipes from what is in my fridge")

	stored, err := reg.Get(context.Background(), "recipe_finder")
	require.NoError(t, err)
	assert.Equal(t, "Recipe Finder", stored.Name)
}

func TestFromDescriptionErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(newRegistry(), nil, 0).FromDescription(ctx, "a long enough description")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(newRegistry(), &fakeText{}, 0).FromDescription(ctx, "short")
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = New(newRegistry(), &fakeText{out: "no json here"}, 0).FromDescription(ctx, "a long enough description")
	assert.ErrorIs(t, err, ErrUnparsable)

	_, err = New(newRegistry(), &fakeText{out: `{"id":"x","name":"X","description":"d"}`}, 0).FromDescription(ctx, "a long enough description")
	assert.ErrorIs(t, err, ErrIncomplete)

	boom := errors.New("quota exceeded")
	_, err = New(newRegistry(), &fakeText{err: boom}, 0).FromDescription(ctx, "a long enough description")
	assert.ErrorIs(t, err, boom)
}

func TestFromDescriptionTimeout(t *testing.T) {
	reg := newRegistry()
	g := New(reg, &fakeText{block: true}, 20*time.Millisecond)

	_, err := g.FromDescription(context.Background(), "a long enough description")
	require.ErrorIs(t, err, ErrTimeout)

	list, err := reg.List(context.Background(), features.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
