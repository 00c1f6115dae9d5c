package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
)

// RecoverMiddleware turns a handler panic into an error log stamped with the
// update metadata. The update is then treated as handled.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.TG.ErrorContext(tghelpers.BuildContext(c), "panic recovered",
				slog.String("event", "tg.panic"),
				slog.String("kind", UpdateKind(c.Update())),
				slog.String("err", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
			err = nil
		}()
		return next(c)
	}
}
