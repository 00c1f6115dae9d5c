// Package dispatch routes callback tokens to built-in screens or feature handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m3rciful/featurebot/bot/features"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/core/logger"
)

// ErrFeatureDisabled is returned for references to a switched-off feature.
var ErrFeatureDisabled = errors.New("dispatch: feature disabled")

// User-visible texts.
const (
	MsgGenericError = "An error occurred. Please try again."
	MsgNoPermission = "⛔ You do not have permission to access admin functions."
	MsgUnknown      = "Unknown action"
)

const tracerName = "github.com/m3rciful/featurebot/bot/dispatch"

// FeatureSource is the read side of the feature registry.
type FeatureSource interface {
	Get(ctx context.Context, id string) (features.Feature, error)
	List(ctx context.Context, flt features.Filter) ([]features.Feature, error)
}

// HandlerSource resolves feature handlers.
type HandlerSource interface {
	Handler(ctx context.Context, id string) (plugins.Handler, error)
}

// Screens renders the built-in parts of the bot.
type Screens interface {
	MainMenu(ctx context.Context, conv plugins.Conversation) error
	NoFeatures(ctx context.Context, conv plugins.Conversation) error
	Settings(ctx context.Context, conv plugins.Conversation, option string) error
	Preference(ctx context.Context, conv plugins.Conversation, kind, value string) error
	Admin(ctx context.Context, conv plugins.Conversation, option, arg string) error
	FeatureGen(ctx context.Context, conv plugins.Conversation, mode string) error
	Feature(ctx context.Context, conv plugins.Conversation, f features.Feature) error
}

// Admins reports admin rights.
type Admins interface {
	IsAdmin(id int64) bool
}

// UsageHook observes successful feature dispatches.
type UsageHook func(ctx context.Context, featureID string)

// Options configures a Router.
type Options struct {
	Features FeatureSource
	Handlers HandlerSource
	Screens  Screens
	Admins   Admins
	Usage    UsageHook
	// Debug sends raw error text to admins.
	Debug bool
}

// Router maps tokens to their targets.
type Router struct {
	features FeatureSource
	handlers HandlerSource
	screens  Screens
	admins   Admins
	usage    UsageHook
	debug    bool
	tracer   trace.Tracer

	collisions sync.Map
}

// NewRouter validates opts and builds a Router.
func NewRouter(opts Options) (*Router, error) {
	if opts.Features == nil || opts.Handlers == nil || opts.Screens == nil {
		return nil, fmt.Errorf("dispatch: features, handlers and screens are required")
	}
	return &Router{
		features: opts.Features,
		handlers: opts.Handlers,
		screens:  opts.Screens,
		admins:   opts.Admins,
		usage:    opts.Usage,
		debug:    opts.Debug,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (r *Router) isAdmin(id int64) bool {
	return r.admins != nil && r.admins.IsAdmin(id)
}

// Dispatch routes raw. Handler errors and panics are logged and turned into a
// generic reply; the returned error only reports a failure to deliver that reply.
func (r *Router) Dispatch(ctx context.Context, conv plugins.Conversation, raw string) error {
	start := time.Now()
	tok, perr := ParseToken(raw)

	ctx, span := r.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("token.kind", tok.Kind.String()),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = logger.WithMeta(ctx, logger.Meta{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()})
	}

	if perr != nil {
		logger.Dispatch.WarnContext(ctx, "malformed token",
			slog.String("event", "dispatch.malformed"),
			slog.String("token", raw),
			slog.Int64("user_id", conv.Identity()),
		)
		span.SetStatus(codes.Error, "malformed token")
		_ = conv.Answer(MsgUnknown, false)
		return nil
	}

	featureID, err := r.route(ctx, conv, tok)
	if featureID != "" {
		span.SetAttributes(attribute.String("feature.id", featureID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		logger.Dispatch.ErrorContext(ctx, "dispatch failed",
			slog.String("event", "dispatch.error"),
			slog.String("token", raw),
			slog.String("feature_id", featureID),
			slog.Int64("user_id", conv.Identity()),
			slog.String("err", err.Error()),
		)
		return r.reportError(conv, err)
	}

	_ = conv.Answer("", false)
	logger.Dispatch.DebugContext(ctx, "dispatched",
		slog.String("event", "dispatch.done"),
		slog.String("kind", tok.Kind.String()),
		slog.String("feature_id", featureID),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// reportError tells the user something went wrong. A callback that was
// already answered cannot carry the alert, so the text goes out as a message.
func (r *Router) reportError(conv plugins.Conversation, err error) error {
	var aerr error
	if t, ok := conv.(plugins.AnswerTracker); ok && t.Answered() {
		aerr = conv.Send(MsgGenericError, nil)
	} else {
		aerr = conv.Answer(MsgGenericError, true)
	}
	if r.debug && r.isAdmin(conv.Identity()) {
		if serr := conv.Send("Error in callback handler: "+err.Error(), nil); serr != nil {
			return serr
		}
	}
	return aerr
}

// route returns the feature the token resolved to, if any.
func (r *Router) route(ctx context.Context, conv plugins.Conversation, tok Token) (string, error) {
	switch tok.Kind {
	case KindMainMenu:
		return "", guard(func() error { return r.screens.MainMenu(ctx, conv) })
	case KindNoFeatures:
		return "", guard(func() error { return r.screens.NoFeatures(ctx, conv) })
	case KindSettings:
		return "", guard(func() error { return r.screens.Settings(ctx, conv, tok.Option) })
	case KindPreference:
		return "", guard(func() error { return r.screens.Preference(ctx, conv, tok.Option, tok.Arg) })
	case KindAdmin, KindFeatureGen:
		if !r.isAdmin(conv.Identity()) {
			logger.Dispatch.WarnContext(ctx, "admin token rejected",
				slog.String("event", "dispatch.forbidden"),
				slog.String("token", tok.Raw),
				slog.Int64("user_id", conv.Identity()),
			)
			return "", conv.Send(MsgNoPermission, nil)
		}
		if tok.Kind == KindFeatureGen {
			return "", guard(func() error { return r.screens.FeatureGen(ctx, conv, tok.Option) })
		}
		return "", guard(func() error { return r.screens.Admin(ctx, conv, tok.Option, tok.Arg) })
	case KindFeature:
		return tok.FeatureID, r.openFeature(ctx, conv, tok.FeatureID)
	case KindSubmenu:
		return tok.FeatureID, r.openSubmenu(ctx, conv, tok.FeatureID, tok.SubmenuID)
	case KindAction:
		return tok.FeatureID, r.runAction(ctx, conv, tok.FeatureID, tok.ActionID)
	case KindDynamic:
		return r.dynamic(ctx, conv, tok)
	}
	return "", fmt.Errorf("dispatch: unhandled kind %s", tok.Kind)
}

// lookup fetches an enabled feature. A missing or disabled feature is reported
// to the user and comes back as features.ErrNotFound or ErrFeatureDisabled.
func (r *Router) lookup(ctx context.Context, conv plugins.Conversation, id string) (features.Feature, error) {
	f, err := r.features.Get(ctx, id)
	if errors.Is(err, features.ErrNotFound) {
		if serr := conv.Send(fmt.Sprintf("Feature with ID %s not found.", id), nil); serr != nil {
			return f, serr
		}
		return f, err
	}
	if err != nil {
		return f, err
	}
	if !f.Enabled {
		return f, r.rejectDisabled(ctx, conv, f)
	}
	return f, nil
}

// rejectDisabled tells the user f is switched off. It returns
// ErrFeatureDisabled unless the notice itself could not be delivered.
func (r *Router) rejectDisabled(ctx context.Context, conv plugins.Conversation, f features.Feature) error {
	logger.Dispatch.InfoContext(ctx, "feature disabled",
		slog.String("event", "dispatch.disabled"),
		slog.String("feature_id", f.ID),
	)
	msg := fmt.Sprintf("The feature %q is currently disabled.", f.Name)
	if err := conv.Send(msg, plugins.Keyboard{{{Text: "🔙 Back to Main Menu", Data: "main_menu"}}}); err != nil {
		return err
	}
	return ErrFeatureDisabled
}

// settle drops the lookup outcomes the user was already told about.
func settle(err error) error {
	if errors.Is(err, features.ErrNotFound) || errors.Is(err, ErrFeatureDisabled) {
		return nil
	}
	return err
}

func (r *Router) recordUsage(ctx context.Context, id string) {
	if r.usage != nil {
		r.usage(ctx, id)
	}
}

func (r *Router) openFeature(ctx context.Context, conv plugins.Conversation, id string) error {
	f, err := r.lookup(ctx, conv, id)
	if err != nil {
		return settle(err)
	}
	r.recordUsage(ctx, f.ID)

	h, err := r.handlers.Handler(ctx, f.ID)
	if err != nil {
		logger.Dispatch.ErrorContext(ctx, "handler unavailable",
			slog.String("event", "dispatch.load_failed"),
			slog.String("feature_id", f.ID),
			slog.String("err", err.Error()),
		)
	} else if opener, ok := h.(plugins.Opener); ok {
		var handled bool
		if err := guard(func() (e error) {
			handled, e = opener.OpenFeature(ctx, conv, f)
			return e
		}); err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	return guard(func() error { return r.screens.Feature(ctx, conv, f) })
}

func trimLabel(emoji, name string) string {
	return strings.TrimSpace(emoji + " " + name)
}

func (r *Router) openSubmenu(ctx context.Context, conv plugins.Conversation, featureID, submenuID string) error {
	f, err := r.lookup(ctx, conv, featureID)
	if err != nil {
		return settle(err)
	}
	sub, ok := f.Submenu(submenuID)
	if !ok {
		return conv.Send(fmt.Sprintf("Submenu with ID %s not found.", submenuID), nil)
	}
	r.recordUsage(ctx, f.ID)

	buttons := make([]plugins.Button, 0, len(sub.Actions))
	for _, a := range sub.Actions {
		buttons = append(buttons, plugins.Button{Text: trimLabel(a.Emoji, a.Name), Data: ActionToken(f.ID, a.ID)})
	}
	kb := plugins.Rows(buttons, 2)
	kb = append(kb, []plugins.Button{{Text: "🔙 Back to Feature", Data: FeatureToken(f.ID)}})

	text := fmt.Sprintf("%s *%s*\n\n%s", sub.Emoji, sub.Name, sub.Description)
	text = strings.TrimSpace(text)
	if err := conv.Edit(text, kb); err != nil {
		return conv.Send(text, kb)
	}
	return nil
}

func (r *Router) runAction(ctx context.Context, conv plugins.Conversation, featureID, actionID string) error {
	f, err := r.lookup(ctx, conv, featureID)
	if err != nil {
		return settle(err)
	}
	action, ok := f.FindAction(actionID)
	if !ok {
		return conv.Send(fmt.Sprintf("Action with ID %s not found.", actionID), nil)
	}
	back := plugins.Keyboard{{{Text: "🔙 Back to Feature", Data: FeatureToken(f.ID)}}}

	h, err := r.handlers.Handler(ctx, f.ID)
	if err != nil {
		logger.Dispatch.ErrorContext(ctx, "handler unavailable",
			slog.String("event", "dispatch.load_failed"),
			slog.String("feature_id", f.ID),
			slog.String("err", err.Error()),
		)
		return conv.Send(fmt.Sprintf("Action %s not implemented yet.", action.ID), back)
	}

	var handled bool
	if err := guard(func() (e error) {
		handled, e = h.HandleAction(ctx, conv, action, f)
		return e
	}); err != nil {
		return err
	}
	if !handled {
		return conv.Send(fmt.Sprintf("Action %s not implemented yet.", action.ID), back)
	}
	r.recordUsage(ctx, f.ID)
	return nil
}

// dynamic offers tok to every enabled feature handler in registry order. The
// first one that handles it wins. Load and execution failures skip to the next
// feature. Disabled features never see the token.
func (r *Router) dynamic(ctx context.Context, conv plugins.Conversation, tok Token) (string, error) {
	list, err := r.features.List(ctx, features.Filter{})
	if err != nil {
		return "", err
	}
	var failed error
	for _, f := range list {
		if !f.Enabled {
			continue
		}
		h, err := r.handlers.Handler(ctx, f.ID)
		if err != nil {
			logger.Dispatch.DebugContext(ctx, "handler skipped",
				slog.String("event", "dispatch.skip"),
				slog.String("feature_id", f.ID),
				slog.String("err", err.Error()),
			)
			continue
		}
		var handled bool
		if err := guard(func() (e error) {
			handled, e = h.HandleCallback(ctx, conv, tok.Raw)
			return e
		}); err != nil {
			logger.Dispatch.WarnContext(ctx, "handler failed",
				slog.String("event", "dispatch.handler_error"),
				slog.String("feature_id", f.ID),
				slog.String("token", tok.Raw),
				slog.String("err", err.Error()),
			)
			if failed == nil {
				failed = fmt.Errorf("feature %s: %w", f.ID, err)
			}
			continue
		}
		if !handled {
			continue
		}
		if f.ID != tok.Namespace && owns(list, tok.Namespace) {
			r.warnCollision(ctx, tok.Namespace, f.ID)
		}
		r.recordUsage(ctx, f.ID)
		return f.ID, nil
	}
	if failed != nil {
		return "", failed
	}
	if f, ok := find(list, tok.Namespace); ok && !f.Enabled {
		return f.ID, settle(r.rejectDisabled(ctx, conv, f))
	}
	logger.Dispatch.WarnContext(ctx, "no handler for token",
		slog.String("event", "dispatch.unhandled"),
		slog.String("token", tok.Raw),
		slog.Int("features", len(list)),
	)
	return "", nil
}

func find(list []features.Feature, id string) (features.Feature, bool) {
	for _, f := range list {
		if f.ID == id {
			return f, true
		}
	}
	return features.Feature{}, false
}

// owns reports whether an enabled feature carries namespace as its id.
func owns(list []features.Feature, namespace string) bool {
	f, ok := find(list, namespace)
	return ok && f.Enabled
}

// warnCollision logs once per namespace and winner.
func (r *Router) warnCollision(ctx context.Context, namespace, winner string) {
	key := namespace + "\x00" + winner
	if _, seen := r.collisions.LoadOrStore(key, struct{}{}); seen {
		return
	}
	logger.Dispatch.WarnContext(ctx, "namespace handled by another feature",
		slog.String("event", "dispatch.namespace_collision"),
		slog.String("namespace", namespace),
		slog.String("winner", winner),
	)
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Dispatch.Error("handler panic",
				slog.String("event", "dispatch.panic"),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
