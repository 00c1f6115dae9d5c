package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/bot/dispatch"
	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/users"
	"github.com/m3rciful/featurebot/core/logger"
	tg "github.com/m3rciful/featurebot/core/telegram"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
	"github.com/m3rciful/featurebot/core/telegram/middleware"
	"github.com/m3rciful/featurebot/core/telegram/router"
	"github.com/m3rciful/featurebot/core/telegram/ui"
)

const (
	maxInlineResults = 50
	inlineCacheTime  = 300
)

var _ ui.FallbackProvider = (*App)(nil)

// TelegramRunOptions wires the app into the Telegram runtime.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	if a.cfg.Telegram.Token == "" {
		return tg.RunOptions{}, fmt.Errorf("app: telegram token is empty")
	}
	reg := tg.NewRegistry()
	for _, cmd := range a.commands() {
		reg.RegisterCommand("/"+cmd.name, tg.Command{
			Handler: func(c tele.Context) error {
				ctx := tghelpers.WithHandler(c, cmd.name)
				return a.runCommand(ctx, cmd, newConversation(c), c.Args())
			},
			Description: cmd.description,
			AdminOnly:   cmd.admin,
		})
	}
	reg.SetCallbackHandler(a.onCallback)
	reg.SetInlineHandler(a.onInline)
	reg.SetCallbackNotFound(a.UnknownCallback())

	admins := middleware.AdminFunc(a.users.IsAdmin)
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		Admins:        admins,
		OnAdminReject: a.rejectAdmin,
	})
	routes = append(routes,
		router.CallbackRoute(reg, router.CallbackOptions{NotFound: a.UnknownCallback()}),
		router.InlineRoute(reg),
	)
	routes = append(routes, router.TextRoutes(a.states, reg, router.TextOptions{
		UnknownText:     a.UnknownText(),
		UnknownDocument: a.UnknownDocument(),
		Admin:           middleware.AdminOptions{Admins: admins, OnReject: a.rejectAdmin},
	})...)

	return tg.RunOptions{
		Config:   a.cfg,
		Registry: reg,
		Middlewares: tg.DefaultMiddlewares(a.cfg, tg.MiddlewareOptions{
			Gate:    a.gate,
			Blocked: a.metrics.Blocked,
			Updates: a.metrics.Updates,
			After:   []tg.Middleware{{Name: "users", Use: a.trackUsers}},
		}),
		Routes: routes,
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			a.setNotifier(botNotifier{bot: rt.Bot, disp: rt.Dispatcher})
			return a.Start(ctx)
		},
		OnStop: func(ctx context.Context, _ tg.Runtime) error {
			return a.Stop(ctx)
		},
	}, nil
}

// trackUsers records every sender before the update is handled.
func (a *App) trackUsers(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if s := c.Sender(); s != nil && !s.IsBot {
			ctx := tghelpers.BuildContext(c)
			_, err := a.users.Track(ctx, users.Profile{
				ID:        s.ID,
				FirstName: s.FirstName,
				LastName:  s.LastName,
				Username:  s.Username,
			})
			if err != nil {
				logger.App.WarnContext(ctx, "user tracking failed",
					slog.String("event", "users.track"),
					slog.Int64("user_id", s.ID),
					slog.String("err", err.Error()),
				)
			}
		}
		return next(c)
	}
}

func (a *App) rejectAdmin(c tele.Context) error {
	return newConversation(c).Send(dispatch.MsgNoPermission, nil)
}

func (a *App) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	ctx := tghelpers.WithHandler(c, "callback")
	conv := newConversation(c)
	a.countCallback(ctx, conv.Identity(), cb.Data)
	return a.router.Dispatch(ctx, conv, cb.Data)
}

// countCallback records a pressed button in the metrics and the user's stats.
func (a *App) countCallback(ctx context.Context, id int64, raw string) {
	tok, _ := dispatch.ParseToken(raw)
	a.metrics.Dispatches.WithLabelValues(tok.Kind.String()).Inc()
	if err := a.users.Count(ctx, id, users.ActivityCallback); err != nil {
		logger.App.WarnContext(ctx, "callback count failed",
			slog.String("event", "users.count"),
			slog.String("err", err.Error()),
		)
		return
	}
	if tok.Kind == dispatch.KindFeature {
		_ = a.users.Count(ctx, id, users.ActivityFeature)
	}
}

func (a *App) onInline(c tele.Context) error {
	q := c.Query()
	ctx := tghelpers.WithHandler(c, "inline")
	lang := a.prefs(ctx, c.Sender().ID).Language
	found, err := a.features.Search(ctx, q.Text)
	if err != nil {
		return err
	}
	return c.Answer(&tele.QueryResponse{
		Results:   a.inlineResults(lang, q.Text, found),
		CacheTime: inlineCacheTime,
	})
}

func (a *App) inlineResults(lang, query string, found []features.Feature) tele.Results {
	query = strings.TrimSpace(query)
	if len(found) == 0 {
		return tele.Results{ui.Article("no_results",
			a.tr.T(lang, "inline.empty.title"),
			a.tr.T(lang, "inline.empty.text", escape(query)),
			a.tr.T(lang, "inline.empty.description", query))}
	}
	if len(found) > maxInlineResults {
		found = found[:maxInlineResults]
	}
	results := make(tele.Results, 0, len(found))
	for _, f := range found {
		text := fmt.Sprintf("*%s*\n\n%s", f.Title(), f.Description)
		if query != "" {
			text += "\n\n" + a.tr.T(lang, "inline.hint")
		}
		results = append(results, ui.Article("feature_"+f.ID, f.Title(), text, f.Description))
	}
	return results
}

// UnknownText answers text that no command or conversation step took.
func (a *App) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		conv := newConversation(c)
		if strings.HasPrefix(c.Text(), "/") {
			return conv.Send("Unknown command. Use /help to see what I can do.", nil)
		}
		return conv.Send("Use /menu to browse the features or /help for the list of commands.", nil)
	}
}

// UnknownDocument answers files sent outside an import.
func (a *App) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return newConversation(c).Send("I was not expecting a file. Admins can import features from *Admin Panel → Add New Feature*.", nil)
	}
}

// UnknownCallback answers callbacks when no handler is installed.
func (a *App) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return newConversation(c).Answer(dispatch.MsgUnknown, false)
	}
}
