// game/clock.go - Phase clock: absolute-expiry countdown with single-shot expiry
package game

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PhaseClock converts a shared absolute expiry timestamp into a local
// countdown. It notifies an observer only when the displayed whole-second
// value changes, and fires the expiry callback exactly once per expiry
// value. Receiving a new expiry (a new phase) re-arms it.
//
// Anchoring on an absolute timestamp instead of rebroadcast countdown
// integers means a client that misses every intermediate timer message
// still computes the correct remaining time from its last snapshot.
type PhaseClock struct {
	clock    clockwork.Clock
	onTick   func(secondsRemaining int)
	onExpire func()

	mu          sync.Mutex
	expiry      time.Time
	armed       bool
	fired       bool
	lastSeconds int
}

// NewPhaseClock creates a stopped clock. Either callback may be nil.
func NewPhaseClock(clock clockwork.Clock, onTick func(int), onExpire func()) *PhaseClock {
	return &PhaseClock{
		clock:       clock,
		onTick:      onTick,
		onExpire:    onExpire,
		lastSeconds: -1,
	}
}

// SetExpiry arms the clock for a new absolute expiry. Setting the same
// expiry again is a no-op so a re-delivered snapshot cannot re-fire an
// already-consumed expiry.
func (c *PhaseClock) SetExpiry(expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed && expiry.Equal(c.expiry) {
		return
	}
	c.expiry = expiry
	c.armed = true
	c.fired = false
	c.lastSeconds = -1
}

// Remaining returns the whole seconds left, rounded up and clamped to zero.
func (c *PhaseClock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *PhaseClock) remainingLocked() int {
	if !c.armed {
		return 0
	}
	ms := c.expiry.Sub(c.clock.Now()).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int(math.Ceil(float64(ms) / 1000.0))
}

// Poll recomputes the countdown and dispatches callbacks. It is cheap
// enough to call at sub-second granularity; observers only hear about
// integer-second changes, so polling frequency never causes re-render
// churn.
func (c *PhaseClock) Poll() {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		return
	}

	secs := c.remainingLocked()
	tick := secs != c.lastSeconds
	c.lastSeconds = secs

	expire := secs == 0 && !c.fired
	if expire {
		c.fired = true
	}
	onTick, onExpire := c.onTick, c.onExpire
	c.mu.Unlock()

	// Callbacks run outside the lock; they may call SetExpiry.
	if tick && onTick != nil {
		onTick(secs)
	}
	if expire && onExpire != nil {
		onExpire()
	}
}

// Run polls until the context is cancelled.
func (c *PhaseClock) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Poll()
		}
	}
}
