// Package admission bounds the request rate of each identity with a sliding
// window and suspends identities that exceed it.
package admission

import (
	"math"
	"sync"
	"time"
)

// Config sets the window, the per-window limit and the block duration.
type Config struct {
	Window       time.Duration
	Limit        int
	BlockTimeout time.Duration
}

// Decision is the verdict of Admit. Remaining is zero when Allowed.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// RemainingSeconds is the remaining block rounded up to whole seconds.
func (d Decision) RemainingSeconds() int {
	if d.Allowed || d.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(d.Remaining.Seconds()))
}

type entry struct {
	mu         sync.Mutex
	requests   []time.Time
	blocked    bool
	blockUntil time.Time
	lastSeen   time.Time
}

// Gate keeps one entry per identity in memory. State is lost on restart.
type Gate struct {
	cfg     Config
	entries sync.Map // int64 -> *entry
}

// NewGate builds a gate; zero config values fall back to 1s / 5 / 60s.
func NewGate(cfg Config) *Gate {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = time.Minute
	}
	return &Gate{cfg: cfg}
}

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.cfg }

// Admit records a request from identity at now and decides whether it may proceed.
// Check-and-update is atomic per identity.
func (g *Gate) Admit(identity int64, now time.Time) Decision {
	v, _ := g.entries.LoadOrStore(identity, &entry{})
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = now

	if e.blocked {
		if now.Before(e.blockUntil) {
			return Decision{Remaining: e.blockUntil.Sub(now)}
		}
		e.blocked = false
	}

	kept := e.requests[:0]
	for _, t := range e.requests {
		if now.Sub(t) < g.cfg.Window {
			kept = append(kept, t)
		}
	}
	e.requests = append(kept, now)

	if len(e.requests) > g.cfg.Limit {
		e.blocked = true
		e.blockUntil = now.Add(g.cfg.BlockTimeout)
		return Decision{Remaining: g.cfg.BlockTimeout}
	}
	return Decision{Allowed: true}
}

// Sweep drops entries that are neither blocked nor seen within the window
// before now. It returns the number of dropped identities.
func (g *Gate) Sweep(now time.Time) int {
	dropped := 0
	g.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		expired := !e.blocked || !now.Before(e.blockUntil)
		if expired && now.Sub(e.lastSeen) >= g.cfg.Window {
			g.entries.Delete(key)
			dropped++
		}
		e.mu.Unlock()
		return true
	})
	return dropped
}
