package router

import (
	"log/slog"
	"maps"
	"slices"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
	tg "github.com/m3rciful/featurebot/core/telegram"
	"github.com/m3rciful/featurebot/core/telegram/callbacks"
	"github.com/m3rciful/featurebot/core/telegram/middleware"
)

// FSM is the conversation state the text routes consult first.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// CommandRouteOptions configures CommandRoutes.
type CommandRouteOptions struct {
	Admins        middleware.AdminChecker
	OnAdminReject tele.HandlerFunc
}

// TextOptions configures TextRoutes.
type TextOptions struct {
	UnknownText     tele.HandlerFunc
	UnknownDocument tele.HandlerFunc
	// Admin guards admin-only commands reached through aliases.
	Admin middleware.AdminOptions
}

// CallbackOptions configures CallbackRoute.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

func wrap(h tele.HandlerFunc) tele.HandlerFunc {
	return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
}

// CommandRoutes returns one route per registered command with the admin
// check applied.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	guard := middleware.AdminOptions{Admins: opts.Admins, OnReject: opts.OnAdminReject}
	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for _, name := range slices.Sorted(maps.Keys(cmds)) {
		cmd := cmds[name]
		h := middleware.WithAdminCheck(guard, cmd.AdminOnly, cmd.Handler)
		routes = append(routes, tg.Route{
			Endpoint: name,
			Handler: wrap(func(c tele.Context) error {
				return begin(c, handlerName(name)).run(h)
			}),
		})
	}
	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(cmds)),
		slog.Bool("callbacks", reg.CallbackHandler() != nil),
		slog.Bool("inline", reg.InlineHandler() != nil),
	)
	return routes
}

// TextRoutes handles plain text and documents. An active conversation takes
// precedence, then command aliases, then the fallbacks.
func TextRoutes(fsm FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	inFlow := func(c tele.Context) bool {
		return fsm != nil && c.Sender() != nil && fsm.InProgress(c.Sender().ID)
	}
	text := func(c tele.Context) error {
		if inFlow(c) {
			return begin(c, "fsm").run(fsm.ManagerHandler)
		}
		if reg != nil {
			if key, cmd, ok := reg.Lookup(c.Text()); ok && cmd.Handler != nil {
				return begin(c, handlerName(key)).run(middleware.WithAdminCheck(opts.Admin, cmd.AdminOnly, cmd.Handler))
			}
			if fb := reg.TextFallback(); fb != nil {
				return begin(c, "fallback").run(fb)
			}
		}
		if opts.UnknownText != nil {
			return begin(c, "unknown_text").run(opts.UnknownText)
		}
		return begin(c, "unknown_text").skip()
	}
	doc := func(c tele.Context) error {
		if inFlow(c) {
			return begin(c, "fsm_document").run(fsm.ManagerHandler)
		}
		if opts.UnknownDocument != nil {
			return begin(c, "unexpected_document").run(opts.UnknownDocument)
		}
		return begin(c, "unexpected_document").skip()
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(text)},
		{Endpoint: tele.OnDocument, Handler: wrap(doc)},
	}
}

// CallbackRoute sends every callback query to the registry's handler.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	h := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		ns, _ := callbacks.Split(c.Callback())
		run := begin(c, "callback."+handlerName(ns), slog.String("cb_key", ns))
		if cb := reg.CallbackHandler(); cb != nil {
			return run.run(cb)
		}
		_ = c.Respond()
		run.attrs = append(run.attrs, slog.String("reason", "not_found"))
		fallback := reg.CallbackNotFound()
		if fallback == nil {
			fallback = opts.NotFound
		}
		if fallback == nil {
			return run.skip()
		}
		return run.run(fallback)
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: wrap(h)}
}

// InlineRoute sends inline queries to the registry's inline handler.
func InlineRoute(reg *tg.Registry) tg.Route {
	h := func(c tele.Context) error {
		inline := reg.InlineHandler()
		if inline == nil || c.Query() == nil {
			return begin(c, "inline").skip()
		}
		return begin(c, "inline", slog.Int("query_len", len(c.Query().Text))).run(inline)
	}
	return tg.Route{Endpoint: tele.OnQuery, Handler: wrap(h)}
}
