package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

type handlerOptions struct {
	level  slog.Leveler
	out    io.Writer
	errOut io.Writer
	format format
	order  []string
	stacks bool
}

// handler renders records with a fixed key order. Keys listed in the order
// come first; the rest follow alphabetically.
type handler struct {
	opts   handlerOptions
	rank   map[string]int
	attrs  []slog.Attr
	prefix string
}

func newHandler(opts handlerOptions) *handler {
	if opts.level == nil {
		opts.level = slog.LevelInfo
	}
	if opts.order == nil {
		opts.order = defaultOrder
	}
	rank := make(map[string]int, len(opts.order))
	for i, k := range opts.order {
		rank[k] = i
	}
	return &handler{opts: opts, rank: rank}
}

func (h *handler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.opts.level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = slices.Concat(h.attrs, h.qualify(attrs))
	return &c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// qualify applies the current group prefix to attrs.
func (h *handler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.prefix == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
	}
	return out
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if h.opts.out == nil {
		return fmt.Errorf("logger: no output configured")
	}
	e := entry{}
	ts := r.Time.UTC()
	e.set("ts", ts.Truncate(time.Millisecond).Format(tsLayout))
	e.set("level", levelName(r.Level))
	if h.opts.format == formatJSON {
		e.set("ts_unix_nano", ts.UnixNano())
	}
	for _, a := range h.attrs {
		e.add("", a)
	}
	var own []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		own = append(own, a)
		return true
	})
	for _, a := range h.qualify(own) {
		e.add("", a)
	}
	e.stamp(MetaFrom(ctx))

	if rid, ok := e.get("rid").(string); ok {
		if short := shortRID(rid); short != rid {
			if h.opts.format == formatJSON {
				e.setDefault("rid_full", rid)
			}
			e.set("rid", short)
		}
	}
	if s, _ := e.get("event").(string); s == "" {
		e.set("event", cmpOr(r.Message, "unknown"))
	}
	if s, _ := e.get("component").(string); s == "" {
		e.set("component", "app")
	}
	if s, ok := e.get("status").(string); ok {
		e.set("status", statusName(s))
	}
	if s, ok := e.get("outcome").(string); ok {
		if o := outcomeName(s); o != "" {
			e.set("outcome", o)
		} else {
			e.del("outcome")
		}
	}
	if !h.opts.stacks && r.Level < slog.LevelError {
		e.del("stack")
	}

	var line []byte
	if h.opts.format == formatJSON {
		line = e.json(h.rank)
	} else {
		line = e.text(h.rank)
	}
	line = append(line, '\n')

	if h.opts.errOut != nil && r.Level >= slog.LevelWarn {
		if _, err := h.opts.errOut.Write(line); err != nil {
			return err
		}
	}
	_, err := h.opts.out.Write(line)
	return err
}

// entry is a flat set of fields; later writes win.
type entry struct {
	keys []string
	vals map[string]any
}

func (e *entry) set(k string, v any) {
	if e.vals == nil {
		e.vals = make(map[string]any, 16)
	}
	if _, ok := e.vals[k]; !ok {
		e.keys = append(e.keys, k)
	}
	e.vals[k] = v
}

func (e *entry) setDefault(k string, v any) {
	if _, ok := e.vals[k]; !ok {
		e.set(k, v)
	}
}

func (e *entry) get(k string) any { return e.vals[k] }

func (e *entry) del(k string) {
	if _, ok := e.vals[k]; !ok {
		return
	}
	delete(e.vals, k)
	e.keys = slices.DeleteFunc(e.keys, func(s string) bool { return s == k })
}

// add flattens groups into dotted keys and drops empty values.
func (e *entry) add(prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" {
		key = strings.TrimSuffix(prefix+"."+key, ".")
	}
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			e.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	k, val, ok := plain(key, v)
	if !ok {
		return
	}
	if s, isStr := val.(string); isStr && s == "" {
		return
	}
	e.set(k, val)
}

// stamp fills fields from the context metadata without overriding explicit attrs.
func (e *entry) stamp(m Meta) {
	if m.RID != "" {
		e.setDefault("rid", m.RID)
	}
	if m.TraceID != "" {
		e.setDefault("trace_id", m.TraceID)
	}
	if m.SpanID != "" {
		e.setDefault("span_id", m.SpanID)
	}
	if m.UpdateID != 0 {
		e.setDefault("update_id", int64(m.UpdateID))
	}
	if m.UserID != 0 {
		e.setDefault("user_id", m.UserID)
	}
	if m.ChatID != 0 {
		e.setDefault("chat_id", m.ChatID)
	}
	if m.Handler != "" {
		e.setDefault("handler", m.Handler)
	}
}

func (e *entry) sorted(rank map[string]int) []string {
	keys := slices.Clone(e.keys)
	slices.SortStableFunc(keys, func(a, b string) int {
		ra, oka := rank[a]
		rb, okb := rank[b]
		switch {
		case oka && okb:
			return ra - rb
		case oka:
			return -1
		case okb:
			return 1
		}
		return strings.Compare(a, b)
	})
	return keys
}

func (e *entry) json(rank map[string]int) []byte {
	buf := []byte{'{'}
	for i, k := range e.sorted(rank) {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		data, err := json.Marshal(e.vals[k])
		if err != nil {
			data, _ = json.Marshal(fmt.Sprint(e.vals[k]))
		}
		buf = append(buf, data...)
	}
	return append(buf, '}')
}

func (e *entry) text(rank map[string]int) []byte {
	var b strings.Builder
	for i, k := range e.sorted(rank) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		s := fmt.Sprint(e.vals[k])
		if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
			s = strconv.Quote(s)
		}
		b.WriteString(s)
	}
	return []byte(b.String())
}

// plain converts a slog value into a JSON-friendly scalar. Durations become
// milliseconds under a *_ms key.
func plain(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(v.Duration()), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case time.Duration:
		return msKey(key), RoundMS(x), true
	case fmt.Stringer:
		return key, x.String(), true
	case string:
		return key, strings.TrimSpace(x), true
	default:
		return key, fmt.Sprint(x), true
	}
}

func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}

// statusName maps free-form status words onto ok, fail and skip.
func statusName(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok", "success", "done":
		return "ok"
	case "fail", "failed", "error", "err":
		return "fail"
	case "skip", "skipped":
		return "skip"
	}
	return s
}

// outcomeName keeps only the dispatch outcomes the dashboards know about.
func outcomeName(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "ok", "handled", "unhandled", "denied", "error", "disabled", "unknown":
		return v
	}
	return ""
}

func cmpOr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
