package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/featurebot/core/config"
)

func newTestLogger(f format, level slog.Level) (*slog.Logger, *bytes.Buffer, *bytes.Buffer) {
	out, errs := &bytes.Buffer{}, &bytes.Buffer{}
	h := newHandler(handlerOptions{level: level, out: out, errOut: errs, format: f})
	return slog.New(h), out, errs
}

func TestTextOrder(t *testing.T) {
	log, out, _ := newTestLogger(formatText, slog.LevelInfo)
	ctx := WithMeta(context.Background(), Meta{RID: "rid-123", UpdateID: 42, UserID: 7, ChatID: 9})
	log.With("component", "app").LogAttrs(ctx, slog.LevelInfo, "test.event",
		slog.String("zeta", "last"),
		slog.String("status", "success"),
	)

	tokens := strings.Fields(strings.TrimSpace(out.String()))
	want := []string{"ts=", "level=info", "component=app", "event=test.event", "status=ok", "rid=rid-123",
		"update_id=42", "user_id=7", "chat_id=9", "zeta=last"}
	require.Len(t, tokens, len(want))
	for i, prefix := range want {
		assert.True(t, strings.HasPrefix(tokens[i], prefix), "token %d = %s, want %s", i, tokens[i], prefix)
	}
}

func TestJSONFields(t *testing.T) {
	log, out, _ := newTestLogger(formatJSON, slog.LevelInfo)
	ctx := WithMeta(context.Background(), Meta{RID: "r-5-6-7-1700000000123456789", Handler: "menu"})
	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "dispatch"),
		slog.Duration("duration", 1500*time.Microsecond),
		slog.Any("err", errors.New("boom")),
		slog.String("empty", ""),
		slog.Group("req", slog.Int("size", 3)),
	)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "dispatch", got["event"])
	assert.Equal(t, "app", got["component"])
	assert.Equal(t, "r-5-456789", got["rid"])
	assert.Equal(t, "r-5-6-7-1700000000123456789", got["rid_full"])
	assert.Equal(t, "menu", got["handler"])
	assert.Equal(t, 1.5, got["duration_ms"])
	assert.Equal(t, "boom", got["err"])
	assert.EqualValues(t, 3, got["req.size"])
	assert.NotContains(t, got, "empty")
	assert.Contains(t, got, "ts_unix_nano")

	line := out.String()
	assert.Less(t, strings.Index(line, `"ts"`), strings.Index(line, `"level"`))
	assert.Less(t, strings.Index(line, `"event"`), strings.Index(line, `"rid"`))
}

func TestExplicitAttrsWinOverMeta(t *testing.T) {
	log, out, _ := newTestLogger(formatText, slog.LevelInfo)
	ctx := WithMeta(context.Background(), Meta{UserID: 7})
	log.InfoContext(ctx, "x", slog.Int64("user_id", 8))
	assert.Contains(t, out.String(), "user_id=8")
	assert.NotContains(t, out.String(), "user_id=7")
}

func TestLevelsAndErrorsSink(t *testing.T) {
	log, out, errs := newTestLogger(formatText, slog.LevelInfo)
	log.Debug("hidden")
	log.Info("shown", slog.String("stack", "trace"))
	log.Warn("careful")
	log.Error("broken", slog.String("stack", "trace"))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.NotContains(t, lines[0], "stack=")
	assert.Contains(t, lines[2], "stack=trace")

	errLines := strings.Split(strings.TrimSpace(errs.String()), "\n")
	require.Len(t, errLines, 2)
	assert.Contains(t, errLines[0], "level=warn")
	assert.Contains(t, errLines[1], "level=error")
}

func TestOutcomeFilter(t *testing.T) {
	log, out, _ := newTestLogger(formatText, slog.LevelInfo)
	log.Info("a", slog.String("outcome", "Handled"))
	log.Info("b", slog.String("outcome", "weird"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "outcome=handled")
	assert.NotContains(t, lines[1], "outcome=")
}

func TestTextQuoting(t *testing.T) {
	log, out, _ := newTestLogger(formatText, slog.LevelInfo)
	log.Info("x", slog.String("payload", `say "hi" now`))
	assert.Contains(t, out.String(), `payload="say \"hi\" now"`)
}

func TestMetaMerge(t *testing.T) {
	ctx := WithMeta(context.Background(), Meta{RID: "a", UserID: 1})
	ctx = WithMeta(ctx, Meta{Handler: "h", UserID: 2})
	assert.Equal(t, Meta{RID: "a", UserID: 2, Handler: "h"}, MetaFrom(ctx))
	assert.Equal(t, Meta{}, MetaFrom(context.Background()))
}

func TestFromContext(t *testing.T) {
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, FromContext(WithLogger(context.Background(), l)))
	assert.Same(t, L, FromContext(context.Background()))
}

func TestShortRID(t *testing.T) {
	assert.Equal(t, "r-1-456789", shortRID("r-1-2-3-123456789"))
	assert.Equal(t, "custom", shortRID("custom"))
	rid := NewRID(1, 2, 3)
	assert.True(t, strings.HasPrefix(rid, "r-1-2-3-"))
}

func TestSanitizeLimit(t *testing.T) {
	assert.Equal(t, "a b c", SanitizeLimit("a\n\tb  c", 0))
	assert.Equal(t, "abc…", SanitizeLimit("abcdef", 3))
	assert.Equal(t, "ok", SanitizeLimit("o\x00k", 10))
	assert.Empty(t, SanitizeLimit("", 5))
}

func TestRoundMSAndSummaries(t *testing.T) {
	assert.Equal(t, 1.23, RoundMS(1234567*time.Nanosecond))
	assert.Equal(t, "a,b,+2", SummarizeStrings([]string{"a", "b", "c", "d"}, 2))
	assert.Equal(t, "a,b", SummarizeStrings([]string{"a", "b"}, 5))
	assert.Empty(t, SummarizeStrings(nil, 2))
}

func TestSampler(t *testing.T) {
	s := newSampler(1, 4)
	allowed := 0
	for range 8 {
		if s.allow() {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
	s.set(0, 0)
	assert.True(t, s.allow())
}

func TestParseRatio(t *testing.T) {
	cases := map[string][2]int{"1/10": {1, 10}, "20": {1, 20}, "0": {0, 0}, "x": {1, 50}, "2/0": {1, 50}}
	for in, want := range cases {
		n, d := parseRatio(in)
		assert.Equal(t, want, [2]int{n, d}, in)
	}
}

func TestOptionsFrom(t *testing.T) {
	o := optionsFrom(&coreconfig.Config{Logging: coreconfig.LoggingConfig{
		Profile: "dev", Level: "debug", KeysOrder: "event, level", Stacks: "on",
	}})
	assert.Equal(t, formatText, o.format)
	assert.Equal(t, slog.LevelDebug, o.level)
	assert.Equal(t, []string{"event", "level"}, o.order)
	assert.True(t, o.stacks)
	assert.Equal(t, 10, o.maxSizeMB)

	d := optionsFrom(nil)
	assert.Equal(t, formatJSON, d.format)
	assert.Equal(t, slog.LevelInfo, d.level)
}

func TestSinkFlushesOnClose(t *testing.T) {
	var buf bytes.Buffer
	s := newSink([]io.Writer{&buf})
	for range 3 {
		_, err := s.Write([]byte("line\n"))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	assert.Equal(t, "line\nline\nline\n", buf.String())
	_, err := s.Write([]byte("late"))
	assert.Error(t, err)
}
