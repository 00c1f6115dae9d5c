package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/featurebot/bot/admission"
	"github.com/m3rciful/featurebot/core/logger"
)

// fakeContext implements the subset of tele.Context the middlewares touch.
type fakeContext struct {
	tele.Context
	upd       tele.Update
	store     map[string]any
	sent      []string
	responses []*tele.CallbackResponse
}

func newMessageContext(userID int64, text string) *fakeContext {
	return &fakeContext{
		upd: tele.Update{ID: 1, Message: &tele.Message{
			Text:   text,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID},
		}},
		store: map[string]any{},
	}
}

func newCallbackContext(userID int64, data string) *fakeContext {
	return &fakeContext{
		upd: tele.Update{ID: 2, Callback: &tele.Callback{
			Data:   data,
			Sender: &tele.User{ID: userID},
		}},
		store: map[string]any{},
	}
}

func (f *fakeContext) Update() tele.Update      { return f.upd }
func (f *fakeContext) Message() *tele.Message   { return f.upd.Message }
func (f *fakeContext) Callback() *tele.Callback { return f.upd.Callback }
func (f *fakeContext) Get(key string) any       { return f.store[key] }
func (f *fakeContext) Set(key string, v any)    { f.store[key] = v }

func (f *fakeContext) Sender() *tele.User {
	switch {
	case f.upd.Message != nil:
		return f.upd.Message.Sender
	case f.upd.Callback != nil:
		return f.upd.Callback.Sender
	}
	return nil
}

func (f *fakeContext) Chat() *tele.Chat {
	if f.upd.Message != nil {
		return f.upd.Message.Chat
	}
	return nil
}

func (f *fakeContext) Send(what any, _ ...any) error {
	if s, ok := what.(string); ok {
		f.sent = append(f.sent, s)
	}
	return nil
}

func (f *fakeContext) Respond(resp ...*tele.CallbackResponse) error {
	f.responses = append(f.responses, resp...)
	return nil
}

type panickyGate struct{}

func (panickyGate) Admit(int64, time.Time) admission.Decision { panic("boom") }

func TestRateLimitMiddlewareBlocksAfterLimit(t *testing.T) {
	gate := admission.NewGate(admission.Config{Window: time.Second, Limit: 2, BlockTimeout: time.Minute})
	blocked := prometheus.NewCounter(prometheus.CounterOpts{Name: "blocked_total"})
	clock := time.UnixMilli(0)
	mw := RateLimitMiddleware(RateLimitOptions{
		Gate:    gate,
		Blocked: blocked,
		Now:     func() time.Time { return clock },
	})

	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	for i := 0; i < 2; i++ {
		require.NoError(t, h(newMessageContext(5, "hi")))
	}
	msg := newMessageContext(5, "hi")
	require.NoError(t, h(msg))
	assert.Equal(t, 2, calls)
	require.Len(t, msg.sent, 1)
	assert.Equal(t, "⚠️ You're sending requests too quickly. Please wait 60 seconds before trying again.", msg.sent[0])

	clock = clock.Add(30 * time.Second)
	cb := newCallbackContext(5, "main_menu")
	require.NoError(t, h(cb))
	require.Len(t, cb.responses, 1)
	assert.True(t, cb.responses[0].ShowAlert)
	assert.Equal(t, "You're sending requests too quickly. Please wait 30 seconds.", cb.responses[0].Text)

	assert.Equal(t, 2, calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(blocked))
}

func TestRateLimitMiddlewareExclusions(t *testing.T) {
	gate := admission.NewGate(admission.Config{Window: time.Second, Limit: 1, BlockTimeout: time.Minute})
	mw := RateLimitMiddleware(RateLimitOptions{
		Gate:    gate,
		Exclude: map[string]struct{}{"callback": {}},
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	for i := 0; i < 5; i++ {
		require.NoError(t, h(newCallbackContext(9, "main_menu")))
	}
	assert.Equal(t, 5, calls)
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitOptions{Gate: panickyGate{}})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })
	require.NoError(t, h(newMessageContext(1, "hello")))
	assert.Equal(t, 1, calls)
}

func TestUpdateKind(t *testing.T) {
	assert.Equal(t, "callback", UpdateKind(tele.Update{Callback: &tele.Callback{}}))
	assert.Equal(t, "message", UpdateKind(tele.Update{Message: &tele.Message{}}))
	assert.Equal(t, "inline_query", UpdateKind(tele.Update{Query: &tele.Query{}}))
	assert.Equal(t, "other", UpdateKind(tele.Update{}))
}

func TestWithAdminCheck(t *testing.T) {
	admins := AdminFunc(func(id int64) bool { return id == 1 })
	rejected := 0
	opts := AdminOptions{Admins: admins, OnReject: func(tele.Context) error { rejected++; return nil }}
	calls := 0
	h := WithAdminCheck(opts, true, func(tele.Context) error { calls++; return nil })

	require.NoError(t, h(newMessageContext(1, "/admin")))
	require.NoError(t, h(newMessageContext(2, "/admin")))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, rejected)
}

func (f *fakeContext) Text() string {
	if f.upd.Message != nil {
		return f.upd.Message.Text
	}
	return ""
}

func TestCountReplies(t *testing.T) {
	c := newMessageContext(3, "hi")
	h := CountReplies(func(c tele.Context) error {
		require.NoError(t, c.Send("one"))
		return c.Send("two", &tele.SendOptions{ReplyMarkup: &tele.ReplyMarkup{}})
	})
	require.NoError(t, h(c))
	assert.Equal(t, Replies{Messages: 2, Keyboard: true}, RepliesOf(c))
	assert.Equal(t, Replies{}, RepliesOf(newMessageContext(3, "x")))
}

func TestLoggerMiddlewareStoresContext(t *testing.T) {
	c := newMessageContext(4, "hello")
	called := false
	h := LoggerMiddleware(func(tc tele.Context) error {
		called = true
		return nil
	})
	require.NoError(t, h(c))
	assert.True(t, called)
	ctx, ok := c.store["ctx"].(context.Context)
	require.True(t, ok)
	meta := logger.MetaFrom(ctx)
	assert.Equal(t, int64(4), meta.UserID)
	assert.Equal(t, int64(4), meta.ChatID)
	assert.Equal(t, 1, meta.UpdateID)
	assert.NotEmpty(t, meta.RID)
}

func TestSeenDeduplicates(t *testing.T) {
	s := &seen{ttl: time.Second, ids: map[int]time.Time{}}
	now := time.Unix(100, 0)
	assert.True(t, s.first(7, now))
	assert.False(t, s.first(7, now.Add(500*time.Millisecond)))
	assert.True(t, s.first(7, now.Add(2*time.Second)))
}

func TestRecoverMiddleware(t *testing.T) {
	c := newCallbackContext(7, "weather:x")
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })

	assert.NotPanics(t, func() { assert.NoError(t, h(c)) })
	ctx, ok := c.store["ctx"].(context.Context)
	require.True(t, ok, "the panic log builds the update context")
	assert.Equal(t, int64(7), logger.MetaFrom(ctx).UserID)

	called := false
	ok2 := RecoverMiddleware(func(tele.Context) error { called = true; return nil })
	require.NoError(t, ok2(newMessageContext(7, "hi")))
	assert.True(t, called)
}
