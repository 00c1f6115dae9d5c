package telegram

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
)

// Command is a slash command exposed by the bot.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	// Hidden commands work but are not published to the command menu.
	Hidden  bool
	Aliases []string
}

// Registry collects commands and the catch-all callback, inline and text
// handlers before the bot starts. It is not safe for use once routes are built.
type Registry struct {
	commands   map[string]Command
	onCallback tele.HandlerFunc
	onMissing  tele.HandlerFunc
	onInline   tele.HandlerFunc
	onText     tele.HandlerFunc
}

// NewRegistry returns an empty registry. Unknown callbacks get a short alert
// until SetCallbackNotFound replaces it.
func NewRegistry() *Registry {
	return &Registry{
		commands: map[string]Command{},
		onMissing: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

// RegisterCommand adds cmd under name, which must start with a slash.
// Invalid and duplicate registrations are logged and ignored.
func (r *Registry) RegisterCommand(name string, cmd Command) {
	reason := ""
	switch {
	case cmd.Handler == nil || cmd.Description == "":
		reason = "invalid"
	case !strings.HasPrefix(name, "/"):
		reason = "no_slash_prefix"
	case r.commands[name].Handler != nil:
		reason = "duplicate"
	}
	if reason != "" {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name), slog.String("reason", reason))
		return
	}
	r.commands[name] = cmd
}

// Commands returns the registered commands keyed by "/name".
func (r *Registry) Commands() map[string]Command {
	return r.commands
}

// Lookup resolves text such as "/help" or an alias to its command.
func (r *Registry) Lookup(text string) (string, Command, bool) {
	name := text
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if cmd, ok := r.commands[name]; ok {
		return name, cmd, true
	}
	for _, key := range slices.Sorted(maps.Keys(r.commands)) {
		cmd := r.commands[key]
		if slices.Contains(cmd.Aliases, name) || slices.Contains(cmd.Aliases, strings.TrimPrefix(name, "/")) {
			return key, cmd, true
		}
	}
	return "", Command{}, false
}

// Menu lists the commands shown in Telegram's command menu, sorted by name.
func (r *Registry) Menu() []tele.Command {
	var out []tele.Command
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		cmd := r.commands[name]
		if cmd.Hidden || cmd.AdminOnly {
			continue
		}
		out = append(out, tele.Command{Text: name, Description: cmd.Description})
	}
	return out
}

// SetCallbackHandler installs the handler for every callback query.
func (r *Registry) SetCallbackHandler(h tele.HandlerFunc) { r.onCallback = h }

// CallbackHandler returns the callback handler or nil.
func (r *Registry) CallbackHandler() tele.HandlerFunc { return r.onCallback }

// SetCallbackNotFound replaces the answer used when no callback handler is set.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h != nil {
		r.onMissing = h
	}
}

// CallbackNotFound returns the unknown-callback handler.
func (r *Registry) CallbackNotFound() tele.HandlerFunc { return r.onMissing }

// SetInlineHandler installs the inline query handler.
func (r *Registry) SetInlineHandler(h tele.HandlerFunc) { r.onInline = h }

// InlineHandler returns the inline handler or nil.
func (r *Registry) InlineHandler() tele.HandlerFunc { return r.onInline }

// SetTextFallback installs the handler for text no command matched.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) { r.onText = h }

// TextFallback returns the text fallback or nil.
func (r *Registry) TextFallback() tele.HandlerFunc { return r.onText }

func publishCommands(bot *tele.Bot, reg *Registry) {
	if len(reg.commands) == 0 {
		return
	}
	menu := reg.Menu()
	if err := bot.SetCommands(menu); err != nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()))
		return
	}
	logger.TWire.Info("commands published",
		slog.String("event", "register.commands"),
		slog.Int("visible", len(menu)),
		slog.Int("total", len(reg.commands)),
	)
}
