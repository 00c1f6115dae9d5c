package admission

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(ms int64) time.Time {
	return time.UnixMilli(1_700_000_000_000 + ms)
}

func TestAdmitBlockScenario(t *testing.T) {
	g := NewGate(Config{Window: time.Second, Limit: 5, BlockTimeout: time.Minute})
	const user = int64(42)

	for _, ms := range []int64{0, 100, 200, 300, 400} {
		d := g.Admit(user, at(ms))
		require.Truef(t, d.Allowed, "request at %dms", ms)
	}

	d := g.Admit(user, at(450))
	require.False(t, d.Allowed)
	assert.Equal(t, 60, d.RemainingSeconds())

	d = g.Admit(user, at(500))
	require.False(t, d.Allowed)
	assert.Equal(t, 60, d.RemainingSeconds())
	assert.Equal(t, 59950*time.Millisecond, d.Remaining)

	d = g.Admit(user, at(60449))
	require.False(t, d.Allowed)
	assert.Equal(t, 1, d.RemainingSeconds())

	d = g.Admit(user, at(60450))
	assert.True(t, d.Allowed)
}

func TestAdmitFirstRequestAlwaysAllowed(t *testing.T) {
	g := NewGate(Config{Window: time.Second, Limit: 1, BlockTimeout: time.Second})
	assert.True(t, g.Admit(1, at(0)).Allowed)
	assert.True(t, g.Admit(2, at(0)).Allowed)
	assert.False(t, g.Admit(1, at(1)).Allowed)
}

func TestAdmitWindowSlides(t *testing.T) {
	g := NewGate(Config{Window: time.Second, Limit: 2, BlockTimeout: time.Minute})
	assert.True(t, g.Admit(7, at(0)).Allowed)
	assert.True(t, g.Admit(7, at(500)).Allowed)
	// the 0ms request has left the window
	assert.True(t, g.Admit(7, at(1000)).Allowed)
	assert.False(t, g.Admit(7, at(1100)).Allowed)
}

func TestAdmitNeverExceedsLimitConcurrently(t *testing.T) {
	g := NewGate(Config{Window: time.Hour, Limit: 5, BlockTimeout: time.Hour})
	now := at(0)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit(99, now).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 5, allowed.Load())
}

func TestSweepKeepsBlockedIdentities(t *testing.T) {
	g := NewGate(Config{Window: time.Second, Limit: 1, BlockTimeout: time.Minute})
	g.Admit(1, at(0))
	g.Admit(2, at(0))
	g.Admit(2, at(10)) // blocks 2

	assert.Equal(t, 1, g.Sweep(at(5000)))
	assert.False(t, g.Admit(2, at(5000)).Allowed)

	assert.Equal(t, 1, g.Sweep(at(120000)))
}

func TestDecisionRemainingSeconds(t *testing.T) {
	assert.Equal(t, 0, Decision{Allowed: true}.RemainingSeconds())
	assert.Equal(t, 1, Decision{Remaining: time.Millisecond}.RemainingSeconds())
	assert.Equal(t, 2, Decision{Remaining: 1001 * time.Millisecond}.RemainingSeconds())
}
