package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/bot/plugins"
	"github.com/m3rciful/featurebot/bot/users"
	coreconfig "github.com/m3rciful/featurebot/core/config"
)

const (
	adminID = int64(1)
	userID  = int64(2)
)

var errNoEdit = errors.New("no message")

type sent struct {
	Text string
	KB   plugins.Keyboard
	Edit bool
}

type fakeConv struct {
	id     int64
	noEdit bool

	mu      sync.Mutex
	sent    []sent
	answers []string
	alerts  []bool
}

func (c *fakeConv) Identity() int64 { return c.id }

func (c *fakeConv) Send(text string, kb plugins.Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{Text: text, KB: kb})
	return nil
}

func (c *fakeConv) Edit(text string, kb plugins.Keyboard) error {
	if c.noEdit {
		return errNoEdit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{Text: text, KB: kb, Edit: true})
	return nil
}

func (c *fakeConv) Answer(text string, alert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *fakeConv) last(t *testing.T) sent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "nothing was sent")
	return c.sent[len(c.sent)-1]
}

func (c *fakeConv) data() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	var out []string
	for _, r := range c.sent[len(c.sent)-1].KB {
		for _, b := range r {
			out = append(out, b.Data)
		}
	}
	return out
}

type note struct {
	UserID int64
	Text   string
}

type fakeNotifier struct {
	fail map[int64]bool

	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) Notify(_ context.Context, id int64, text string) error {
	if n.fail[id] {
		return errors.New("blocked by user")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{UserID: id, Text: text})
	return nil
}

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	return &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{
			Token:    "test-token",
			BotName:  "Test Bot",
			AdminIDs: []int64{adminID},
		},
		Logging: coreconfig.LoggingConfig{Dir: t.TempDir(), BotFile: "bot.log"},
		RateLimit: coreconfig.RateLimitConfig{
			WindowMS:       1000,
			Limit:          5,
			BlockTimeoutMS: 60000,
		},
		Storage: coreconfig.StorageConfig{
			Backend:     coreconfig.StorageFile,
			HandlersDir: t.TempDir(),
		},
		AI: coreconfig.AIConfig{TimeoutMS: 1000},
	}
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T, n Notifier) *App {
	t.Helper()
	a, err := New(Deps{
		Config:   testConfig(t),
		Store:    docstore.NewMemoryStore(),
		Notifier: n,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	a.started = testNow.Add(-time.Hour)
	return a
}

func track(t *testing.T, a *App, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := a.users.Track(context.Background(), users.Profile{ID: id, FirstName: "User", Username: "user_name"})
		require.NoError(t, err)
	}
}
