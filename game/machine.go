// game/machine.go - Host-authoritative round state machine
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Broadcast event names shared by the machine and the realtime channel.
const (
	EventQuizStarted    = "quiz_started"
	EventPhaseChange    = "phase_change"
	EventTimerUpdate    = "timer_update"
	EventScoreUpdated   = "score_updated"
	EventJokersResolved = "jokers_resolved"
)

var (
	ErrNotStarted     = errors.New("quiz has not started")
	ErrAlreadyStarted = errors.New("quiz already started")
	ErrQuizComplete   = errors.New("quiz is complete")
	ErrPaused         = errors.New("quiz is paused")
	ErrNotPaused      = errors.New("quiz is not paused")
	ErrWrongPhase     = errors.New("operation not allowed in current phase")
	ErrStaleQuestion  = errors.New("answer does not match the current question")
	ErrUnknownPhase   = errors.New("unknown phase")
)

// Store is the durable session state the machine writes through.
// Persistence is the source of truth; broadcast is a latency
// optimization on top of it.
type Store interface {
	UpdateSessionPhase(ctx context.Context, snap Snapshot) error
	JokerActions(ctx context.Context, sessionID string, questionIndex int) ([]JokerAction, error)
	// AwardScore and AdjustScore must be atomic increments at the
	// storage layer; the machine never reads-modifies-writes a score.
	AwardScore(ctx context.Context, sessionID, playerID string, points int, correct bool) error
	AdjustScore(ctx context.Context, sessionID, playerID string, delta int) error
	CompleteSession(ctx context.Context, sessionID string) error
}

// Broadcaster fans an event out to every subscriber of the session.
// Delivery is best-effort, unordered, at-most-once.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// CreditGate is the entitlement boundary: one credit is consumed before
// a session may leave the waiting state.
type CreditGate interface {
	ConsumeCredit(ctx context.Context, hostID string) error
}

// TimerUpdatePayload is broadcast whenever the displayed second changes.
type TimerUpdatePayload struct {
	SecondsRemaining int `json:"seconds_remaining"`
}

// ScoreUpdatedPayload is broadcast after every score mutation.
type ScoreUpdatedPayload struct {
	PlayerID      string `json:"player_id"`
	Points        int    `json:"points"`
	Correct       bool   `json:"correct"`
	QuestionIndex int    `json:"question_index"`
	Stolen        bool   `json:"stolen,omitempty"`
}

// JokersResolvedPayload announces the strategy window outcome.
type JokersResolvedPayload struct {
	QuestionIndex int        `json:"question_index"`
	Effects       Effects    `json:"effects"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
}

// Machine owns the current phase, question index and expiry for one
// session. Only the host runs a Machine; every other client mirrors it
// through snapshots. All transitions persist first, then broadcast.
type Machine struct {
	sessionID string
	hostID    string
	quiz      Quiz
	store     Store
	bus       Broadcaster
	credits   CreditGate
	clock     clockwork.Clock
	log       zerolog.Logger

	phaseClock *PhaseClock
	wakeCh     chan struct{}

	mu            sync.Mutex
	started       bool
	phase         Phase
	questionIndex int
	expiry        time.Time
	paused        bool
	pausedAt      time.Time
	ledger        *Ledger
	effects       Effects
	conflicts     []Conflict
}

// NewMachine wires a machine for one session. The clock should be
// clockwork.NewRealClock() in production and a fake clock in tests.
func NewMachine(sessionID, hostID string, quiz Quiz, store Store, bus Broadcaster, credits CreditGate, clock clockwork.Clock, log zerolog.Logger) *Machine {
	m := &Machine{
		sessionID: sessionID,
		hostID:    hostID,
		quiz:      quiz,
		store:     store,
		bus:       bus,
		credits:   credits,
		clock:     clock,
		log:       log.With().Str("session_id", sessionID).Logger(),
		wakeCh:    make(chan struct{}, 1),
		ledger:    NewLedger(),
		effects:   NewEffects(),
	}
	m.phaseClock = NewPhaseClock(clock, func(secs int) {
		bus.Broadcast(EventTimerUpdate, TimerUpdatePayload{SecondsRemaining: secs})
	}, nil)
	return m
}

// Start consumes one host credit and moves the session out of waiting.
// The waiting -> playing transition is one-way and irreversible; a
// failed credit check leaves the session untouched.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	if len(m.quiz.Questions) == 0 {
		return errors.New("quiz has no questions")
	}
	if err := m.credits.ConsumeCredit(ctx, m.hostID); err != nil {
		return err
	}

	m.started = true
	m.bus.Broadcast(EventQuizStarted, map[string]interface{}{
		"session_id": m.sessionID,
		"title":      m.quiz.Title,
	})
	m.enterQuestionLocked(ctx, 0)
	m.wake()

	m.log.Info().Int("questions", len(m.quiz.Questions)).Msg("quiz started")
	return nil
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// QuestionIndex returns the current question position.
func (m *Machine) QuestionIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.questionIndex
}

// Effects returns the active joker effects for the current question.
func (m *Machine) Effects() Effects {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effects
}

// InStrategyWindow reports whether jokers may currently be played.
func (m *Machine) InStrategyWindow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && m.phase == PhaseThemeAnnouncement
}

// Snapshot returns the current authoritative snapshot.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:     m.sessionID,
		Phase:         m.phase,
		QuestionIndex: m.questionIndex,
		StageNumber:   StageNumber(m.questionIndex, m.quiz.QuestionsPerStage),
	}
	if !m.expiry.IsZero() {
		snap.PhaseExpiresAt = m.expiry.UnixMilli()
	}
	if m.questionIndex < len(m.quiz.Questions) {
		q := m.quiz.Questions[m.questionIndex]
		snap.Question = &q
		snap.ThemeTitle = q.Theme
	}
	return snap
}

// SubmitAnswer scores one answer submission against the current
// question. Duplicate submissions return ErrDuplicateAnswer and callers
// are expected to swallow it. Blocked players are rejected here even if
// the UI guard was bypassed.
func (m *Machine) SubmitAnswer(ctx context.Context, playerID string, questionIndex int, answer string) (Award, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return Award{}, ErrNotStarted
	}
	if m.phase != PhaseAnswerSelection {
		return Award{}, ErrWrongPhase
	}
	if questionIndex != m.questionIndex {
		return Award{}, ErrStaleQuestion
	}

	q := m.quiz.Questions[m.questionIndex]
	correct := answer == q.CorrectAnswer

	award, err := m.ledger.AwardAnswer(playerID, m.questionIndex, q.Points, correct, m.effects)
	if err != nil {
		return award, err
	}

	if err := m.store.AwardScore(ctx, m.sessionID, playerID, award.Points, correct); err != nil {
		m.log.Error().Err(err).Str("player_id", playerID).Msg("failed to persist score award")
	}
	m.bus.Broadcast(EventScoreUpdated, ScoreUpdatedPayload{
		PlayerID:      playerID,
		Points:        award.Points,
		Correct:       correct,
		QuestionIndex: m.questionIndex,
	})
	return award, nil
}

// SkipPhase forces the current phase timer to its last tick. The
// transition follows the exact same path as a natural expiry, so it
// can never bypass persistence or broadcast.
func (m *Machine) SkipPhase(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	if m.phase.Terminal() {
		return ErrQuizComplete
	}
	if m.paused {
		return ErrPaused
	}
	m.advanceLocked(ctx)
	return nil
}

// Pause disables phase transitions without resetting the timer.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	if m.phase.Terminal() {
		return ErrQuizComplete
	}
	if m.paused {
		return nil
	}
	m.paused = true
	m.pausedAt = m.clock.Now()
	m.wake()
	m.log.Info().Str("phase", string(m.phase)).Msg("quiz paused")
	return nil
}

// Resume re-enables transitions, shifting the expiry by the time spent
// paused so the countdown continues where it stopped. Repeated
// pause/resume cycles accumulate correctly because each resume folds
// its own interval into the expiry.
func (m *Machine) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	if !m.paused {
		return ErrNotPaused
	}
	pausedFor := m.clock.Now().Sub(m.pausedAt)
	m.expiry = m.expiry.Add(pausedFor)
	m.paused = false

	snap := m.snapshotLocked()
	if err := m.store.UpdateSessionPhase(ctx, snap); err != nil {
		m.log.Error().Err(err).Msg("failed to persist snapshot on resume")
	}
	m.bus.Broadcast(EventPhaseChange, snap)
	m.phaseClock.SetExpiry(m.expiry)
	m.wake()

	m.log.Info().Dur("paused_for", pausedFor).Msg("quiz resumed")
	return nil
}

// JumpToPhase moves directly to another phase of the CURRENT question.
// Only allowed while paused; the question index never changes. The new
// expiry is derived fresh, persisted and re-broadcast.
func (m *Machine) JumpToPhase(ctx context.Context, phase Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	if !m.paused {
		return ErrNotPaused
	}
	if !phase.InQuestionCycle() {
		return ErrUnknownPhase
	}

	m.phase = phase
	m.expiry = m.clock.Now().Add(phase.Duration())
	// Only time spent paused after the jump extends the fresh expiry.
	m.pausedAt = m.clock.Now()

	snap := m.snapshotLocked()
	if err := m.store.UpdateSessionPhase(ctx, snap); err != nil {
		m.log.Error().Err(err).Msg("failed to persist snapshot on phase jump")
	}
	m.bus.Broadcast(EventPhaseChange, snap)
	m.phaseClock.SetExpiry(m.expiry)
	m.wake()

	m.log.Info().Str("phase", string(phase)).Int("question", m.questionIndex).Msg("jumped to phase")
	return nil
}

// Run drives timer-based phase advancement until the context ends or
// the quiz completes. The loop re-reads the expiry after every wake, so
// a timer armed for a superseded expiry can never fire a transition.
func (m *Machine) Run(ctx context.Context) {
	go m.phaseClock.Run(ctx, 200*time.Millisecond)

	timer := m.clock.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.mu.Lock()
		started := m.started
		terminal := m.phase.Terminal()
		paused := m.paused
		expiry := m.expiry
		m.mu.Unlock()

		if terminal && started {
			return
		}
		if !started || paused {
			select {
			case <-ctx.Done():
				return
			case <-m.wakeCh:
			}
			continue
		}

		wait := expiry.Sub(m.clock.Now())
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-timer.Chan():
			case <-m.wakeCh:
				continue
			}
		}

		m.mu.Lock()
		// Re-verify under lock: a skip, pause or jump may have raced
		// the timer.
		if m.started && !m.paused && !m.phase.Terminal() && !m.clock.Now().Before(m.expiry) {
			m.advanceLocked(ctx)
		}
		m.mu.Unlock()
	}
}

func (m *Machine) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// advanceLocked applies the fixed transition rule once. Callers hold
// the lock.
func (m *Machine) advanceLocked(ctx context.Context) {
	switch m.phase {
	case PhaseThemeAnnouncement:
		// The strategy window just closed: resolve this question's
		// joker actions before anyone can answer.
		m.resolveJokersLocked(ctx)
		m.enterPhaseLocked(ctx, PhaseQuestionDisplay)

	case PhaseQuestionDisplay:
		m.enterPhaseLocked(ctx, PhaseAnswerSelection)

	case PhaseAnswerSelection:
		m.enterPhaseLocked(ctx, PhaseResults)
		m.applyStealsLocked(ctx)

	case PhaseResults:
		m.enterPhaseLocked(ctx, PhaseIntermission)

	case PhaseIntermission:
		if m.questionIndex+1 >= len(m.quiz.Questions) {
			m.completeLocked(ctx)
			return
		}
		if m.quiz.breakAfter(m.questionIndex) {
			m.enterPhaseLocked(ctx, PhaseCommercialBreak)
			return
		}
		m.enterQuestionLocked(ctx, m.questionIndex+1)

	case PhaseCommercialBreak:
		m.enterQuestionLocked(ctx, m.questionIndex+1)

	default:
		// Terminal or unknown: nothing to advance.
	}
}

// enterQuestionLocked starts the strategy window of a new question.
// Active effects never carry over between questions.
func (m *Machine) enterQuestionLocked(ctx context.Context, questionIndex int) {
	m.questionIndex = questionIndex
	m.effects = NewEffects()
	m.conflicts = nil
	m.enterPhaseLocked(ctx, PhaseThemeAnnouncement)
}

// enterPhaseLocked performs the side effects of one transition:
// derive the new expiry, persist the snapshot, broadcast it. A failed
// persist is logged and the broadcast still goes out; a follower that
// later reconciles will read stale state until the next write lands.
func (m *Machine) enterPhaseLocked(ctx context.Context, phase Phase) {
	m.phase = phase
	if phase.Terminal() {
		m.expiry = time.Time{}
	} else {
		m.expiry = m.clock.Now().Add(phase.Duration())
	}

	snap := m.snapshotLocked()
	if err := m.store.UpdateSessionPhase(ctx, snap); err != nil {
		m.log.Error().Err(err).Str("phase", string(phase)).Msg("failed to persist phase snapshot")
	}
	m.bus.Broadcast(EventPhaseChange, snap)
	if !phase.Terminal() {
		m.phaseClock.SetExpiry(m.expiry)
	}
	m.wake()

	m.log.Info().
		Str("phase", string(phase)).
		Int("question", m.questionIndex).
		Time("expires_at", m.expiry).
		Msg("phase transition")
}

func (m *Machine) resolveJokersLocked(ctx context.Context) {
	actions, err := m.store.JokerActions(ctx, m.sessionID, m.questionIndex)
	if err != nil {
		m.log.Error().Err(err).Int("question", m.questionIndex).Msg("failed to load joker actions")
		actions = nil
	}
	m.effects, m.conflicts = ResolveJokers(actions)
	m.bus.Broadcast(EventJokersResolved, JokersResolvedPayload{
		QuestionIndex: m.questionIndex,
		Effects:       m.effects,
		Conflicts:     m.conflicts,
	})
	m.log.Info().
		Int("question", m.questionIndex).
		Int("actions", len(actions)).
		Int("conflicts", len(m.conflicts)).
		Msg("strategy window resolved")
}

// applyStealsLocked redistributes per-question points at the end of a
// question. Transfers are applied as two atomic increments so racing
// answer submissions can never produce a lost update.
func (m *Machine) applyStealsLocked(ctx context.Context) {
	transfers := m.ledger.ApplySteals(m.questionIndex, m.effects)
	for _, t := range transfers {
		if t.Points == 0 {
			// The victim scored nothing this question (e.g. blocked);
			// the steal legitimately transfers zero.
			continue
		}
		if err := m.store.AdjustScore(ctx, m.sessionID, t.VictimID, -t.Points); err != nil {
			m.log.Error().Err(err).Str("player_id", t.VictimID).Msg("failed to apply steal debit")
		}
		if err := m.store.AdjustScore(ctx, m.sessionID, t.ThiefID, t.Points); err != nil {
			m.log.Error().Err(err).Str("player_id", t.ThiefID).Msg("failed to apply steal credit")
		}
		m.bus.Broadcast(EventScoreUpdated, ScoreUpdatedPayload{
			PlayerID:      t.VictimID,
			Points:        -t.Points,
			QuestionIndex: t.QuestionIndex,
			Stolen:        true,
		})
		m.bus.Broadcast(EventScoreUpdated, ScoreUpdatedPayload{
			PlayerID:      t.ThiefID,
			Points:        t.Points,
			QuestionIndex: t.QuestionIndex,
			Stolen:        true,
		})
	}
}

func (m *Machine) completeLocked(ctx context.Context) {
	m.enterPhaseLocked(ctx, PhaseQuizComplete)
	if err := m.store.CompleteSession(ctx, m.sessionID); err != nil {
		m.log.Error().Err(err).Msg("failed to finalize session")
	}
	m.log.Info().Msg("quiz complete")
}
