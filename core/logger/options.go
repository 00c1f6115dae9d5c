package logger

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	coreconfig "github.com/m3rciful/featurebot/core/config"
)

type format string

const (
	formatJSON format = "json"
	formatText format = "kv"
)

// defaultOrder puts the fields an operator scans first at the front of every line.
var defaultOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "trace_id", "span_id", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type", "handler",
	"token", "token_kind", "feature_id", "submenu_id", "action_id",
	"outcome", "duration_ms", "messages", "kb", "count",
	"backend", "doc", "payload", "lang", "username",
	"mode", "listen", "public_url", "http_code", "db", "host", "port",
	"remaining_ms", "err", "err_code", "cause",
	"retryable", "attempts", "backoff_ms", "pending_count",
}

type options struct {
	format  format
	level   slog.Level
	order   []string
	stacks  bool
	profile string
	trace   bool

	sampleNum, sampleDen int

	dir        string
	botFile    string
	errorsFile string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
}

func optionsFrom(cfg *coreconfig.Config) options {
	o := options{
		format:    formatJSON,
		level:     slog.LevelInfo,
		order:     defaultOrder,
		profile:   "prod",
		sampleNum: 1,
		sampleDen: 50,
		trace:     truthy(os.Getenv("LOG_TRACE")) || truthy(os.Getenv("TRACE")),
	}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		o.format = formatText
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatText
		}
	}
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		o.level = slog.LevelDebug
	case "warn", "warning":
		o.level = slog.LevelWarn
	case "error":
		o.level = slog.LevelError
	}
	if order := splitList(lc.KeysOrder); len(order) > 0 && lc.KeysOrder != "default" {
		o.order = order
	}
	if ratio := strings.TrimSpace(lc.DebugSample); ratio != "" {
		o.sampleNum, o.sampleDen = parseRatio(ratio)
	}
	o.stacks = truthy(lc.Stacks)
	o.dir = strings.TrimSpace(lc.Dir)
	o.botFile = strings.TrimSpace(lc.BotFile)
	o.errorsFile = strings.TrimSpace(lc.ErrorsFile)
	o.maxSizeMB = orDefault(lc.MaxSizeMB, 10)
	o.maxBackups = orDefault(lc.MaxBackups, 5)
	o.maxAgeDays = orDefault(lc.MaxAgeDays, 30)
	return o
}

// openOutputs opens the rotating files. A directory that cannot be created
// leaves logging on stdout only.
func openOutputs(o options) (outs, errOuts []io.Writer, closers []io.Closer) {
	if o.dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		log.Printf("logger: create log dir %s: %v", o.dir, err)
		return nil, nil, nil
	}
	rotate := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(o.dir, name),
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
			Compress:   true,
		}
	}
	if o.botFile != "" {
		f := rotate(o.botFile)
		outs = append(outs, f)
		closers = append(closers, f)
	}
	if o.errorsFile != "" {
		f := rotate(o.errorsFile)
		errOuts = append(errOuts, f)
		closers = append(closers, f)
	}
	return outs, errOuts, closers
}

// parseRatio reads "n/d" or "d" (meaning 1/d). "0" disables sampling.
func parseRatio(s string) (int, int) {
	if a, b, ok := strings.Cut(s, "/"); ok {
		num, err1 := strconv.Atoi(strings.TrimSpace(a))
		den, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 == nil && err2 == nil && num > 0 && den > 0 {
			return num, den
		}
		return 1, 50
	}
	d, err := strconv.Atoi(s)
	switch {
	case err != nil:
		return 1, 50
	case d <= 0:
		return 0, 0
	}
	return 1, d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
