// game/follower.go - Follower mirror with persisted-state reconciliation
package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SnapshotReader fetches the authoritative persisted snapshot. It is
// the fallback truth a follower polls when broadcasts go missing.
type SnapshotReader interface {
	Snapshot(ctx context.Context, sessionID string) (Snapshot, error)
}

const (
	// DefaultGracePeriod is how long after local expiry a follower
	// waits for the broadcast before polling persisted state.
	DefaultGracePeriod = 2 * time.Second

	// DefaultPollInterval bounds how often the fallback poller hits
	// the store while waiting for the world to move.
	DefaultPollInterval = 1500 * time.Millisecond
)

// Follower mirrors host-driven state for a player or TV display. The
// primary update path is the broadcast subscription; when the local
// phase clock reaches zero and no fresher snapshot arrives within the
// grace period, it reconciles against persisted state at a bounded
// interval, and stops the moment anything fresher supersedes it.
type Follower struct {
	sessionID    string
	reader       SnapshotReader
	clock        clockwork.Clock
	log          zerolog.Logger
	gracePeriod  time.Duration
	pollInterval time.Duration
	onAdopt      func(Snapshot)

	phaseClock *PhaseClock

	mu         sync.Mutex
	snap       Snapshot
	haveSnap   bool
	resyncing  bool
	nextPollAt time.Time
}

// NewFollower creates a follower for one session. onAdopt is invoked
// for every snapshot the follower accepts, whichever path delivered it.
func NewFollower(sessionID string, reader SnapshotReader, clock clockwork.Clock, log zerolog.Logger, onAdopt func(Snapshot)) *Follower {
	f := &Follower{
		sessionID:    sessionID,
		reader:       reader,
		clock:        clock,
		log:          log.With().Str("session_id", sessionID).Logger(),
		gracePeriod:  DefaultGracePeriod,
		pollInterval: DefaultPollInterval,
		onAdopt:      onAdopt,
	}
	f.phaseClock = NewPhaseClock(clock, nil, f.onLocalExpiry)
	return f
}

// PhaseClock exposes the follower's countdown for display rendering.
func (f *Follower) PhaseClock() *PhaseClock {
	return f.phaseClock
}

// Current returns the last adopted snapshot.
func (f *Follower) Current() (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.haveSnap
}

// OnBroadcast feeds a snapshot received from the realtime channel.
// Stale or duplicate deliveries are dropped, which keeps the locally
// observed phase sequence a subsequence of the true one even when the
// transport reorders messages.
func (f *Follower) OnBroadcast(snap Snapshot) {
	f.adopt(snap, "broadcast")
}

// OnResubscribed must be called after the realtime subscription was
// re-established. It fetches persisted state immediately instead of
// waiting for the next broadcast, which could stall indefinitely.
func (f *Follower) OnResubscribed(ctx context.Context) {
	snap, err := f.reader.Snapshot(ctx, f.sessionID)
	if err != nil {
		f.log.Error().Err(err).Msg("resync after resubscribe failed")
		// Arm the fallback poller so we still converge.
		f.mu.Lock()
		f.resyncing = true
		f.nextPollAt = f.clock.Now().Add(f.pollInterval)
		f.mu.Unlock()
		return
	}
	f.adopt(snap, "resubscribe")
}

func (f *Follower) adopt(snap Snapshot, source string) {
	if err := snap.Validate(); err != nil {
		f.log.Warn().Err(err).Str("source", source).Msg("rejected malformed snapshot")
		return
	}

	f.mu.Lock()
	if f.haveSnap && !snap.Supersedes(f.snap) {
		f.mu.Unlock()
		return
	}
	f.snap = snap
	f.haveSnap = true
	// Anything fresher cancels an in-flight reconciliation.
	f.resyncing = false
	onAdopt := f.onAdopt
	f.mu.Unlock()

	if !snap.Phase.Terminal() {
		f.phaseClock.SetExpiry(snap.ExpiryTime())
	}
	f.log.Debug().
		Str("source", source).
		Str("phase", string(snap.Phase)).
		Int("question", snap.QuestionIndex).
		Msg("adopted snapshot")
	if onAdopt != nil {
		onAdopt(snap)
	}
}

// onLocalExpiry arms the fallback poller: the countdown hit zero, so a
// phase_change is due. The first poll waits out the grace period to
// give the broadcast a chance to arrive.
func (f *Follower) onLocalExpiry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resyncing {
		return
	}
	f.resyncing = true
	f.nextPollAt = f.clock.Now().Add(f.gracePeriod)
}

// Step drives the follower's clock and reconciliation. It is called
// from Run on a sub-second cadence and directly by tests.
func (f *Follower) Step(ctx context.Context) {
	f.phaseClock.Poll()

	f.mu.Lock()
	due := f.resyncing && !f.clock.Now().Before(f.nextPollAt)
	if due {
		// Push the next attempt out before releasing the lock so an
		// error path cannot hammer the store.
		f.nextPollAt = f.clock.Now().Add(f.pollInterval)
	}
	f.mu.Unlock()

	if !due {
		return
	}

	snap, err := f.reader.Snapshot(ctx, f.sessionID)
	if err != nil {
		f.log.Warn().Err(err).Msg("fallback poll failed")
		return
	}
	f.adopt(snap, "fallback_poll")
}

// Run steps the follower until the context is cancelled.
func (f *Follower) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			f.Step(ctx)
		}
	}
}
