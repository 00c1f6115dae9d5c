// Package usage counts feature and command use.
//
// Counts are exported as Prometheus counters and kept in memory for the
// admin analytics screen. Totals survive restarts through the "stats"
// document.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m3rciful/featurebot/bot/docstore"
	"github.com/m3rciful/featurebot/core/logger"
)

// DocumentName is the docstore document holding persisted totals.
const DocumentName = "stats"

// Count is one named counter value.
type Count struct {
	Name  string
	Value int
}

// Snapshot is a point-in-time copy of the totals.
type Snapshot struct {
	Features []Count
	Commands []Count
	Since    time.Time
}

type document struct {
	FeaturesUsed map[string]int `json:"featuresUsed"`
	CommandsUsed map[string]int `json:"commandsUsed"`
	Since        time.Time      `json:"since"`
}

// Tracker records usage.
type Tracker struct {
	featureVec *prometheus.CounterVec
	commandVec *prometheus.CounterVec

	mu       sync.Mutex
	features map[string]int
	commands map[string]int
	since    time.Time
	dirty    bool
}

// NewTracker registers the usage counters with reg. A nil reg uses the default registerer.
func NewTracker(reg prometheus.Registerer) *Tracker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Tracker{
		featureVec: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "featurebot_feature_usage_total",
			Help: "Successful dispatches per feature.",
		}, []string{"feature"}),
		commandVec: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "featurebot_commands_total",
			Help: "Bot commands handled, by command.",
		}, []string{"command"}),
		features: make(map[string]int),
		commands: make(map[string]int),
		since:    time.Now().UTC(),
	}
}

// Feature records one use of featureID. Its signature matches dispatch.UsageHook.
func (t *Tracker) Feature(_ context.Context, featureID string) {
	t.featureVec.WithLabelValues(featureID).Inc()
	t.mu.Lock()
	t.features[featureID]++
	t.dirty = true
	t.mu.Unlock()
}

// Command records one use of a bot command.
func (t *Tracker) Command(name string) {
	t.commandVec.WithLabelValues(name).Inc()
	t.mu.Lock()
	t.commands[name]++
	t.dirty = true
	t.mu.Unlock()
}

// Forget drops a removed feature from the in-memory totals.
func (t *Tracker) Forget(featureID string) {
	t.featureVec.DeleteLabelValues(featureID)
	t.mu.Lock()
	if _, ok := t.features[featureID]; ok {
		delete(t.features, featureID)
		t.dirty = true
	}
	t.mu.Unlock()
}

func sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Snapshot returns totals sorted by count, highest first.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Features: sorted(t.features), Commands: sorted(t.commands), Since: t.since}
}

// Top returns at most n entries of counts.
func Top(counts []Count, n int) []Count {
	if len(counts) > n {
		return counts[:n]
	}
	return counts
}

// Restore seeds the in-memory totals from the store.
func (t *Tracker) Restore(ctx context.Context, st docstore.Store) error {
	var doc document
	if err := docstore.LoadOrInit(ctx, st, DocumentName, &doc); err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range doc.FeaturesUsed {
		t.features[k] += v
	}
	for k, v := range doc.CommandsUsed {
		t.commands[k] += v
	}
	if !doc.Since.IsZero() {
		t.since = doc.Since
	}
	return nil
}

// Flush writes the totals when they changed since the last flush.
func (t *Tracker) Flush(ctx context.Context, st docstore.Store) error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	doc := document{
		FeaturesUsed: make(map[string]int, len(t.features)),
		CommandsUsed: make(map[string]int, len(t.commands)),
		Since:        t.since,
	}
	for k, v := range t.features {
		doc.FeaturesUsed[k] = v
	}
	for k, v := range t.commands {
		doc.CommandsUsed[k] = v
	}
	t.dirty = false
	t.mu.Unlock()

	if err := st.Save(ctx, DocumentName, doc); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (t *Tracker) Run(ctx context.Context, st docstore.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := t.Flush(context.WithoutCancel(ctx), st); err != nil {
				logger.App.Error("final stats flush failed", slog.String("event", "usage.flush"), slog.String("err", err.Error()))
			}
			return
		case <-ticker.C:
			if err := t.Flush(ctx, st); err != nil {
				logger.App.Warn("stats flush failed", slog.String("event", "usage.flush"), slog.String("err", err.Error()))
			}
		}
	}
}
