package middleware

import (
	"log/slog"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
	"github.com/m3rciful/featurebot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
)

// seen remembers update ids for a short while. Routes wrap handlers with
// LoggerMiddleware on top of the global chain, and an update is received once.
type seen struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[int]time.Time
}

var received = &seen{ttl: 10 * time.Second, ids: map[int]time.Time{}}

// first reports whether id was not seen within the ttl.
func (s *seen) first(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.ids {
		if now.Sub(at) > s.ttl {
			delete(s.ids, k)
		}
	}
	if _, dup := s.ids[id]; dup {
		return false
	}
	s.ids[id] = now
	return true
}

// LoggerMiddleware stamps the update metadata on the handler context and
// writes a sampled update.received debug line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		upd := c.Update()
		if logger.SampleDebug() && received.first(upd.ID, time.Now()) {
			attrs := []slog.Attr{slog.String("status", "ok")}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if u := c.Sender(); u != nil {
				attrs = append(attrs,
					slog.String("username", logger.SanitizeLimit(u.Username, 64)),
					slog.String("lang", u.LanguageCode),
				)
			}
			switch {
			case upd.Callback != nil:
				ns, rest := callbacks.Split(upd.Callback)
				attrs = append(attrs,
					slog.String("cb_key", logger.SanitizeLimit(ns, 128)),
					slog.String("payload", logger.SanitizeLimit(rest, 256)),
				)
			case upd.Message != nil:
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(c.Text(), 256)))
			}
			logger.Debug(ctx, "tg", "update.received", attrs...)
		}
		return next(c)
	}
}
