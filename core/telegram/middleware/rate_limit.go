package middleware

import (
	"fmt"
	"time"

	"github.com/m3rciful/featurebot/bot/admission"
	"github.com/m3rciful/featurebot/core/logger"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	tele "gopkg.in/telebot.v4"
)

// Admitter decides whether an identity may proceed.
type Admitter interface {
	Admit(identity int64, now time.Time) admission.Decision
}

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Gate    Admitter
	Exclude map[string]struct{}
	// Blocked counts rejected updates; optional.
	Blocked prometheus.Counter
	// Now overrides time.Now, for tests.
	Now func() time.Time
}

// UpdateKind classifies an update for exclusions and metrics.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware asks the gate before every update from a known sender.
// Blocked callbacks get an alert, blocked messages a reply. A failing gate lets the update through.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Gate == nil {
				return next(c)
			}

			kind := UpdateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}

			decision, ok := admit(opts.Gate, user.ID, now())
			if !ok || decision.Allowed {
				return next(c)
			}

			ctx := tghelpers.BuildContext(c)
			logger.Admission.LogAttrs(ctx, slog.LevelWarn, "rate limit",
				slog.String("event", "admission.blocked"),
				slog.Int64("user_id", user.ID),
				slog.String("kind", kind),
				slog.Int64("remaining_ms", decision.Remaining.Milliseconds()),
			)
			if opts.Blocked != nil {
				opts.Blocked.Inc()
			}
			return notifyBlocked(c, decision.RemainingSeconds())
		}
	}
}

func admit(gate Admitter, id int64, now time.Time) (d admission.Decision, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Admission.Warn("gate failed, admitting",
				slog.String("event", "admission.fail_open"),
				slog.Int64("user_id", id),
				slog.Any("err", r),
			)
			ok = false
		}
	}()
	return gate.Admit(id, now), true
}

func notifyBlocked(c tele.Context, seconds int) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{
			Text:      fmt.Sprintf("You're sending requests too quickly. Please wait %d seconds.", seconds),
			ShowAlert: true,
		})
	}
	if c.Message() != nil {
		return c.Send(fmt.Sprintf("⚠️ You're sending requests too quickly. Please wait %d seconds before trying again.", seconds))
	}
	return nil
}
