// Package aigen scaffolds new features, either from a short template form or
// from a free-text description run through a language model.
package aigen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/core/logger"
)

var (
	// ErrDisabled reports AI generation without a configured model.
	ErrDisabled = errors.New("aigen: AI generation is not configured")
	// ErrTimeout reports a model call that ran past the configured timeout.
	ErrTimeout = errors.New("aigen: generation timed out")
	// ErrUnparsable reports model output with no usable JSON object.
	ErrUnparsable = errors.New("aigen: failed to parse generated feature")
	// ErrIncomplete reports a generated feature missing a required field.
	ErrIncomplete = errors.New("aigen: generated feature is incomplete")
	// ErrTemplateFormat reports template info lacking one of the four lines.
	ErrTemplateFormat = errors.New("aigen: invalid template format")
	// ErrTooShort reports a description too short to generate from.
	ErrTooShort = errors.New("aigen: description too short")
)

const (
	// DefaultEmoji is used when a template omits the emoji.
	DefaultEmoji = "🎯"
	// MinDescription is the shortest description FromDescription accepts.
	MinDescription = 10

	systemPrompt = "You are a helpful assistant that designs Telegram bot features. Always return valid JSON."
)

// TextGenerator turns a prompt into model text.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Creator persists a draft; *features.Registry satisfies it.
type Creator interface {
	Add(ctx context.Context, d features.Draft) (features.Feature, error)
}

// Generator creates features from templates and descriptions.
type Generator struct {
	creator Creator
	text    TextGenerator
	timeout time.Duration
}

// New builds a Generator. text may be nil, which disables FromDescription.
func New(creator Creator, text TextGenerator, timeout time.Duration) *Generator {
	return &Generator{creator: creator, text: text, timeout: timeout}
}

// AIEnabled reports whether FromDescription can run.
func (g *Generator) AIEnabled() bool {
	return g.text != nil
}

// TemplateInfo is the admin-supplied header of a template feature.
type TemplateInfo struct {
	ID          string
	Name        string
	Description string
	Emoji       string
}

var (
	templateID          = regexp.MustCompile(`(?im)^[ \t]*ID:[ \t]*(.*?)[ \t\r]*$`)
	templateName        = regexp.MustCompile(`(?i)Name:\s*(.+)`)
	templateDescription = regexp.MustCompile(`(?i)Description:\s*(.+)`)
	templateEmoji       = regexp.MustCompile(`(?i)Emoji:\s*(\S+)`)
)

// ParseTemplateInfo reads the "ID: / Name: / Description: / Emoji:" lines.
// All four are required. The ID line must hold a single id from [a-z0-9_],
// case-insensitively; anything else is an ErrValidation.
func ParseTemplateInfo(text string) (TemplateInfo, error) {
	id := templateID.FindStringSubmatch(text)
	name := templateName.FindStringSubmatch(text)
	desc := templateDescription.FindStringSubmatch(text)
	emoji := templateEmoji.FindStringSubmatch(text)
	if id == nil || id[1] == "" || name == nil || desc == nil || emoji == nil {
		return TemplateInfo{}, ErrTemplateFormat
	}
	fid := strings.ToLower(id[1])
	if !features.ValidID(fid) {
		return TemplateInfo{}, fmt.Errorf("%w: id %q must match [a-z0-9_]+", features.ErrValidation, id[1])
	}
	return TemplateInfo{
		ID:          fid,
		Name:        strings.TrimSpace(name[1]),
		Description: strings.TrimSpace(desc[1]),
		Emoji:       strings.TrimSpace(emoji[1]),
	}, nil
}

// FromTemplate adds a feature with a single "Get Started" action.
func (g *Generator) FromTemplate(ctx context.Context, info TemplateInfo) (features.Feature, error) {
	emoji := info.Emoji
	if emoji == "" {
		emoji = DefaultEmoji
	}
	d := features.Draft{
		ID:          info.ID,
		Name:        info.Name,
		Description: info.Description,
		Emoji:       emoji,
		Enabled:     features.Bool(true),
		Submenus:    []features.Submenu{},
		Actions: []features.Action{{
			ID:          "get_started",
			Name:        "Get Started",
			Description: "Start using this feature",
			Emoji:       "▶️",
		}},
	}
	f, err := g.creator.Add(ctx, d)
	if err != nil {
		return features.Feature{}, err
	}
	logger.AIGen.Info("feature created from template",
		slog.String("event", "aigen.template"),
		slog.String("feature_id", f.ID),
	)
	return f, nil
}

// FromDescription asks the model for a feature definition and adds it.
func (g *Generator) FromDescription(ctx context.Context, description string) (features.Feature, error) {
	if g.text == nil {
		return features.Feature{}, ErrDisabled
	}
	description = strings.TrimSpace(description)
	if len([]rune(description)) < MinDescription {
		return features.Feature{}, ErrTooShort
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.text.Generate(callCtx, systemPrompt, Prompt(description))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			logger.AIGen.Warn("generation timed out",
				slog.String("event", "aigen.timeout"),
				slog.Duration("timeout", g.timeout),
			)
			return features.Feature{}, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return features.Feature{}, err
	}

	d, err := ParseDraft(out)
	if err != nil {
		logger.AIGen.Warn("unusable model output",
			slog.String("event", "aigen.parse"),
			slog.String("err", err.Error()),
			slog.Int("bytes", len(out)),
		)
		return features.Feature{}, err
	}
	f, err := g.creator.Add(ctx, d)
	if err != nil {
		return features.Feature{}, err
	}
	logger.AIGen.Info("feature generated",
		slog.String("event", "aigen.generate"),
		slog.String("feature_id", f.ID),
		slog.Duration("duration", time.Since(start)),
	)
	return f, nil
}

// Prompt builds the generation prompt for description.
func Prompt(description string) string {
	return `Generate a Telegram bot feature based on this description: "` + description + `"

Return a JSON object with the following structure (MUST be valid JSON):
{
  "id": "unique_feature_id_lowercase_with_underscores",
  "name": "Feature Name",
  "description": "Detailed description of the feature",
  "emoji": "🔍",
  "submenus": [
    {
      "id": "submenu_id",
      "name": "Submenu Name",
      "description": "Submenu description",
      "emoji": "📋",
      "actions": [
        {"id": "action_id", "name": "Action Name", "description": "Action description", "emoji": "⚙️"}
      ]
    }
  ],
  "actions": [
    {"id": "action_id", "name": "Action Name", "description": "Action description", "emoji": "⚙️"}
  ]
}

Rules:
1. "id" must be lowercase, alphanumeric with underscores only, and unique
2. Choose appropriate emojis for each element
3. Design a logical structure with appropriate submenus and actions
4. Make feature description detailed and helpful
5. Return ONLY the JSON object with NO additional text or markdown`
}

var fence = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// ExtractJSON returns the JSON object embedded in model output: the body of the
// first code fence if any, cut to the span between the first '{' and the last '}'.
func ExtractJSON(out string) string {
	s := strings.TrimSpace(out)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

var invalidIDChars = regexp.MustCompile(`[^a-z0-9_]`)

// SanitizeID lowercases id and replaces every character outside [a-z0-9_] with '_'.
func SanitizeID(id string) string {
	return invalidIDChars.ReplaceAllString(strings.ToLower(id), "_")
}

// ParseDraft decodes model output into a draft with sanitized ids.
func ParseDraft(out string) (features.Draft, error) {
	var d features.Draft
	if err := json.Unmarshal([]byte(ExtractJSON(out)), &d); err != nil {
		return features.Draft{}, ErrUnparsable
	}
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Name) == "" ||
		strings.TrimSpace(d.Description) == "" || strings.TrimSpace(d.Emoji) == "" {
		return features.Draft{}, ErrIncomplete
	}
	d.ID = SanitizeID(d.ID)
	d.Enabled = features.Bool(true)
	for i := range d.Actions {
		d.Actions[i].ID = SanitizeID(d.Actions[i].ID)
	}
	for i := range d.Submenus {
		d.Submenus[i].ID = SanitizeID(d.Submenus[i].ID)
		for j := range d.Submenus[i].Actions {
			d.Submenus[i].Actions[j].ID = SanitizeID(d.Submenus[i].Actions[j].ID)
		}
	}
	return d, nil
}
