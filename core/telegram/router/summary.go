// Package router turns a Registry into telebot routes. Every route logs one
// handler.handled line with the outcome, the reply tally and the duration.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
	tghelpers "github.com/m3rciful/featurebot/core/telegram/helpers"
	"github.com/m3rciful/featurebot/core/telegram/middleware"
)

// handling times one handler run.
type handling struct {
	c     tele.Context
	name  string
	start time.Time
	attrs []slog.Attr
}

func begin(c tele.Context, name string, attrs ...slog.Attr) *handling {
	tghelpers.WithHandler(c, name)
	return &handling{c: c, name: name, start: time.Now(), attrs: attrs}
}

// run calls h and logs the result.
func (h *handling) run(fn tele.HandlerFunc) error {
	err := fn(h.c)
	outcome := "handled"
	if err != nil {
		outcome = "error"
	}
	h.log(outcome, err)
	return err
}

// skip logs an update nobody handled.
func (h *handling) skip() error {
	h.log("unhandled", nil)
	return nil
}

func (h *handling) log(outcome string, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "fail"
	case outcome == "unhandled":
		status = "skip"
	}
	r := middleware.RepliesOf(h.c)
	attrs := append([]slog.Attr{
		slog.String("status", status),
		slog.String("handler", h.name),
		slog.String("outcome", outcome),
		slog.Int("messages", r.Messages),
		slog.Bool("kb", r.Keyboard),
		slog.Duration("duration", time.Since(h.start)),
	}, h.attrs...)
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errCode(err)),
		)
	}
	logger.Info(tghelpers.BuildContext(h.c), "tg", "handler.handled", attrs...)
}

// handlerName turns "/Start Now" into "start_now".
func handlerName(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "/")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}

// errCode prefers an error's own Code() and falls back to its Go type name.
func errCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if c := strings.TrimSpace(coded.Code()); c != "" {
			return strings.ToUpper(strings.ReplaceAll(c, " ", "_"))
		}
	}
	name := fmt.Sprintf("%T", err)
	name = name[strings.LastIndexAny(name, ".*")+1:]
	return strings.ToUpper(name)
}
