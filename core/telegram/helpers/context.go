// Package helpers bridges telebot contexts with context.Context and covers
// the Markdown send paths shared by handlers.
package helpers

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/core/logger"
)

const ctxKey = "ctx"

// StoreContext caches ctx on c for later handlers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c != nil && ctx != nil {
		c.Set(ctxKey, ctx)
	}
}

// BuildContext returns the context cached on c, creating one stamped with the
// update metadata on first use.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := c.Get(ctxKey).(context.Context); ok {
		return ctx
	}
	ctx := logger.WithLogger(logger.WithMeta(context.Background(), MetaOf(c)), logger.TG)
	StoreContext(c, ctx)
	return ctx
}

// MetaOf reads the update coordinates from c and builds a request id.
func MetaOf(c tele.Context) logger.Meta {
	m := logger.Meta{UpdateID: c.Update().ID}
	if chat := c.Chat(); chat != nil {
		m.ChatID = chat.ID
	}
	if u := c.Sender(); u != nil {
		m.UserID = u.ID
	}
	m.RID = logger.NewRID(m.UpdateID, m.ChatID, m.UserID)
	return m
}

// WithHandler records the handler name on the cached context.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithMeta(ctx, logger.Meta{Handler: handler})
		StoreContext(c, ctx)
	}
	return ctx
}
