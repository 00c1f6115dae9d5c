package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/featurebot/bot/dispatch"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/bot/settings"
	"github.com/m3rciful/featurebot/bot/users"
	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/core/telegram/format"
)

const defaultFeatureEmoji = "🎯"

func (a *App) prefs(ctx context.Context, id int64) settings.Preferences {
	return a.users.Preferences(ctx, id)
}

func (a *App) t(ctx context.Context, conv plugins.Conversation, key string, args ...any) string {
	return a.tr.T(a.prefs(ctx, conv.Identity()).Language, key, args...)
}

func btn(text, data string) plugins.Button {
	return plugins.Button{Text: text, Data: data}
}

func row(buttons ...plugins.Button) []plugins.Button {
	return buttons
}

func escape(s string) string {
	out, err := format.EscapeMarkdown(s, format.MarkdownV1, "")
	if err != nil {
		return s
	}
	return out
}

// MainMenu lists the enabled features laid out by the user's keyboard style.
func (a *App) MainMenu(ctx context.Context, conv plugins.Conversation) error {
	kb, err := a.mainMenuKeyboard(ctx, conv.Identity())
	if err != nil {
		return err
	}
	p := a.prefs(ctx, conv.Identity())
	return present(conv, a.tr.T(p.Language, "menu.title"), kb)
}

func (a *App) mainMenuKeyboard(ctx context.Context, id int64) (plugins.Keyboard, error) {
	p := a.prefs(ctx, id)
	style := settings.Style(p.KeyboardStyle)
	enabled, err := a.features.List(ctx, features.Filter{Enabled: features.Bool(true)})
	if err != nil {
		return nil, err
	}

	var kb plugins.Keyboard
	if len(enabled) == 0 {
		kb = append(kb, row(btn(a.tr.T(p.Language, "menu.empty"), dispatch.Token{Kind: dispatch.KindNoFeatures}.String())))
	} else {
		buttons := make([]plugins.Button, 0, len(enabled))
		for _, f := range enabled {
			emoji := f.Emoji
			if emoji == "" {
				emoji = defaultFeatureEmoji
			}
			buttons = append(buttons, btn(style.Label(emoji, f.Name), dispatch.FeatureToken(f.ID)))
		}
		kb = append(kb, plugins.Rows(buttons, style.MainMenuRows)...)
	}
	kb = append(kb, row(btn(a.tr.T(p.Language, "menu.settings"), "settings")))
	if a.users.IsAdmin(id) {
		kb = append(kb, row(btn(a.tr.T(p.Language, "menu.admin"), "admin")))
	}
	return kb, nil
}

// NoFeatures answers the placeholder button of an empty menu.
func (a *App) NoFeatures(ctx context.Context, conv plugins.Conversation) error {
	return conv.Answer(a.t(ctx, conv, "menu.no_features"), true)
}

// Feature renders the default feature screen: submenus, then root actions.
func (a *App) Feature(ctx context.Context, conv plugins.Conversation, f features.Feature) error {
	p := a.prefs(ctx, conv.Identity())
	style := settings.Style(p.KeyboardStyle)

	emoji := f.Emoji
	if emoji == "" {
		emoji = defaultFeatureEmoji
	}
	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, f.Name, f.Description)

	var kb plugins.Keyboard
	subs := make([]plugins.Button, 0, len(f.Submenus))
	for _, s := range f.Submenus {
		subs = append(subs, btn(style.Label(s.Emoji, s.Name), dispatch.SubmenuToken(f.ID, s.ID)))
	}
	kb = append(kb, plugins.Rows(subs, style.SubMenuRows)...)
	acts := make([]plugins.Button, 0, len(f.Actions))
	for _, act := range f.Actions {
		acts = append(acts, btn(style.Label(act.Emoji, act.Name), dispatch.ActionToken(f.ID, act.ID)))
	}
	kb = append(kb, plugins.Rows(acts, style.SubMenuRows)...)
	kb = append(kb, row(btn(a.tr.T(p.Language, "back.short"), "main_menu")))
	return present(conv, text, kb)
}

// Settings renders the settings screen or one of its sub screens.
func (a *App) Settings(ctx context.Context, conv plugins.Conversation, option string) error {
	id := conv.Identity()
	p := a.prefs(ctx, id)
	lang := p.Language
	backSettings := row(btn(a.tr.T(lang, "back.settings"), "settings"))

	switch option {
	case "":
		return present(conv, a.tr.T(lang, "settings.title"), plugins.Keyboard{
			row(btn(a.tr.T(lang, "settings.keyboard_style"), "settings:keyboard_style"),
				btn(a.tr.T(lang, "settings.notification_style"), "settings:notification_style")),
			row(btn(a.tr.T(lang, "settings.language"), "settings:language"),
				btn(a.tr.T(lang, "settings.profile"), "settings:profile")),
			row(btn(a.tr.T(lang, "settings.stats"), "settings:stats")),
			row(btn(a.tr.T(lang, "back.main_menu"), "main_menu")),
		})

	case "keyboard_style":
		var buttons []plugins.Button
		for _, s := range settings.KeyboardStyles() {
			buttons = append(buttons, btn(checked(s.Name == p.KeyboardStyle, s.Name), dispatch.PrefKeyboardStyle+":"+s.Name))
		}
		return present(conv, a.tr.T(lang, "settings.keyboard_style.title"), selector(buttons, a.tr.T(lang, "back.settings")))

	case "notification_style":
		var buttons []plugins.Button
		for _, s := range settings.NotificationStyles() {
			buttons = append(buttons, btn(checked(s == p.NotificationStyle, s), dispatch.PrefNotificationStyle+":"+s))
		}
		return present(conv, a.tr.T(lang, "settings.notification_style.title"), selector(buttons, a.tr.T(lang, "back.settings")))

	case "language":
		var buttons []plugins.Button
		for _, l := range settings.Languages() {
			buttons = append(buttons, btn(checked(l.Code == p.Language, l.Name), dispatch.PrefLanguage+":"+l.Code))
		}
		return present(conv, a.tr.T(lang, "settings.language.title"), selector(buttons, a.tr.T(lang, "back.settings")))

	case "profile":
		u, err := a.users.Get(ctx, id)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				return conv.Send(a.tr.T(lang, "settings.profile.missing"), nil)
			}
			return err
		}
		username := a.tr.T(lang, "settings.profile.none")
		if u.Username != "" {
			username = "@" + escape(u.Username)
		}
		text := a.tr.T(lang, "settings.profile.text",
			escape(u.DisplayName()), username, u.ID, p.Language, p.KeyboardStyle, p.NotificationStyle,
			formatDate(u.CreatedAt), formatDate(u.LastActivity))
		return present(conv, text, plugins.Keyboard{backSettings})

	case "stats":
		u, err := a.users.Get(ctx, id)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			return err
		}
		last := a.now()
		if !u.LastActivity.IsZero() {
			last = u.LastActivity
		}
		text := a.tr.T(lang, "settings.stats.text", u.Stats.Commands, u.Stats.Features, u.Stats.Callbacks, formatDate(last))
		return present(conv, text, plugins.Keyboard{backSettings})
	}

	logger.App.Debug("unknown settings option",
		slog.String("event", "settings.unknown"),
		slog.String("option", option),
	)
	return conv.Answer(a.tr.T(lang, "settings.unknown", option), true)
}

func checked(on bool, label string) string {
	if on {
		return "✅ " + label
	}
	return label
}

func selector(buttons []plugins.Button, back string) plugins.Keyboard {
	kb := plugins.Rows(buttons, 2)
	return append(kb, row(btn(back, "settings")))
}

// Preference stores one preference and confirms it.
func (a *App) Preference(ctx context.Context, conv plugins.Conversation, kind, value string) error {
	id := conv.Identity()
	lang := a.prefs(ctx, id).Language

	var (
		valid   bool
		invalid string
		updated string
		apply   func(p *settings.Preferences)
	)
	switch kind {
	case dispatch.PrefKeyboardStyle:
		valid = settings.ValidKeyboardStyle(value)
		invalid, updated = "settings.invalid_keyboard_style", "settings.keyboard_style.updated"
		apply = func(p *settings.Preferences) { p.KeyboardStyle = value }
	case dispatch.PrefNotificationStyle:
		valid = settings.ValidNotificationStyle(value)
		invalid, updated = "settings.invalid_notification_style", "settings.notification_style.updated"
		apply = func(p *settings.Preferences) { p.NotificationStyle = value }
	case dispatch.PrefLanguage:
		valid = settings.ValidLanguage(value)
		invalid, updated = "settings.invalid_language", "settings.language.updated"
		apply = func(p *settings.Preferences) { p.Language = value }
	default:
		return conv.Answer(dispatch.MsgUnknown, false)
	}
	if !valid {
		return conv.Answer(a.tr.T(lang, invalid, value), true)
	}

	u, err := a.users.UpdatePreferences(ctx, id, apply)
	if err != nil {
		return err
	}
	lang = u.Settings.Language
	label := value
	if kind == dispatch.PrefLanguage {
		for _, l := range settings.Languages() {
			if l.Code == value {
				label = l.Name
			}
		}
	}
	return present(conv, a.tr.T(lang, updated, label), plugins.Keyboard{
		row(btn(a.tr.T(lang, "back.settings"), "settings")),
	})
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
