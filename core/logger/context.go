package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Meta is the per-update metadata the handler stamps on every record logged
// with the carrying context.
type Meta struct {
	RID      string
	UpdateID int
	UserID   int64
	ChatID   int64
	Handler  string
	TraceID  string
	SpanID   string
}

// merge overlays the non-zero fields of m onto base.
func (m Meta) merge(base Meta) Meta {
	if m.RID != "" {
		base.RID = m.RID
	}
	if m.UpdateID != 0 {
		base.UpdateID = m.UpdateID
	}
	if m.UserID != 0 {
		base.UserID = m.UserID
	}
	if m.ChatID != 0 {
		base.ChatID = m.ChatID
	}
	if m.Handler != "" {
		base.Handler = m.Handler
	}
	if m.TraceID != "" {
		base.TraceID = m.TraceID
	}
	if m.SpanID != "" {
		base.SpanID = m.SpanID
	}
	return base
}

type (
	metaKey   struct{}
	loggerKey struct{}
)

// WithMeta returns ctx carrying m merged over any metadata already present.
func WithMeta(ctx context.Context, m Meta) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metaKey{}, m.merge(MetaFrom(ctx)))
}

// MetaFrom returns the metadata carried by ctx.
func MetaFrom(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L
}

// NewRID builds a request id from the update coordinates:
// r-<update>-<chat>-<user>-<unix nanos>.
func NewRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("r-%d-%d-%d-%d", updateID, chatID, userID, time.Now().UnixNano())
}

// shortRID keeps the update id and the last six digits of the timestamp.
func shortRID(rid string) string {
	parts := strings.Split(rid, "-")
	if len(parts) != 5 || parts[0] != "r" {
		return rid
	}
	ts := parts[4]
	if len(ts) > 6 {
		ts = ts[len(ts)-6:]
	}
	return "r-" + parts[1] + "-" + ts
}

// SanitizeLimit collapses whitespace, drops control characters and truncates
// s to limit runes with a trailing ellipsis.
func SanitizeLimit(s string, limit int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	space := false
	for _, r := range s {
		if r == utf8.RuneError {
			continue
		}
		if r == '\n' || r == '\r' || r == '\t' || r == ' ' {
			if !space && n > 0 {
				b.WriteByte(' ')
				n++
			}
			space = true
		} else if r < 0x20 || r == 0x7f {
			continue
		} else {
			b.WriteRune(r)
			n++
			space = false
		}
		if limit > 0 && n >= limit {
			return strings.TrimRight(b.String(), " ") + "…"
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// RoundMS converts d to milliseconds with two decimals.
func RoundMS(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	v, _ := strconv.ParseFloat(strconv.FormatFloat(ms, 'f', 2, 64), 64)
	return v
}

// SummarizeStrings joins up to limit items and appends "+N" for the rest.
func SummarizeStrings(items []string, limit int) string {
	if len(items) == 0 {
		return ""
	}
	if limit <= 0 || len(items) <= limit {
		return strings.Join(items, ",")
	}
	return strings.Join(items[:limit], ",") + ",+" + strconv.Itoa(len(items)-limit)
}
