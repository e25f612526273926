package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type scoreCall struct {
	playerID string
	points   int
	correct  bool
}

type adjustCall struct {
	playerID string
	delta    int
}

type fakeStore struct {
	mu        sync.Mutex
	snapshots []Snapshot
	actions   map[int][]JokerAction
	awards    []scoreCall
	adjusts   []adjustCall
	completed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{actions: make(map[int][]JokerAction)}
}

func (s *fakeStore) UpdateSessionPhase(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeStore) JokerActions(_ context.Context, _ string, questionIndex int) ([]JokerAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actions[questionIndex], nil
}

func (s *fakeStore) AwardScore(_ context.Context, _, playerID string, points int, correct bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awards = append(s.awards, scoreCall{playerID, points, correct})
	return nil
}

func (s *fakeStore) AdjustScore(_ context.Context, _, playerID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjusts = append(s.adjusts, adjustCall{playerID, delta})
	return nil
}

func (s *fakeStore) CompleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, sessionID)
	return nil
}

func (s *fakeStore) lastSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return Snapshot{}
	}
	return s.snapshots[len(s.snapshots)-1]
}

type busEvent struct {
	event   string
	payload interface{}
}

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *fakeBus) Broadcast(event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{event, payload})
}

func (b *fakeBus) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.event == event {
			n++
		}
	}
	return n
}

type fakeCredits struct {
	remaining int
	consumed  int
}

var errNoCredits = errors.New("no credits")

func (c *fakeCredits) ConsumeCredit(_ context.Context, _ string) error {
	if c.remaining <= 0 {
		return errNoCredits
	}
	c.remaining--
	c.consumed++
	return nil
}

func testQuiz(questionCount int, breaks ...int) Quiz {
	quiz := Quiz{
		Title:                "Test Night",
		QuestionsPerStage:    2,
		CommercialBreakAfter: breaks,
		JokerAllotment:       1,
	}
	for i := 0; i < questionCount; i++ {
		quiz.Questions = append(quiz.Questions, Question{
			Index:         i,
			Theme:         "History",
			Text:          "Question?",
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "B",
			Points:        100,
		})
	}
	return quiz
}

func newTestMachine(t *testing.T, quiz Quiz, credits *fakeCredits) (*Machine, *fakeStore, *fakeBus, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Unix(10000, 0))
	store := newFakeStore()
	bus := &fakeBus{}
	if credits == nil {
		credits = &fakeCredits{remaining: 1}
	}
	m := NewMachine("sess-1", "host-1", quiz, store, bus, credits, fc, zerolog.Nop())
	return m, store, bus, fc
}

// skip drives one transition through the same path a timer expiry takes.
func skip(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.SkipPhase(context.Background()); err != nil {
		t.Fatalf("SkipPhase() error = %v", err)
	}
}

func TestMachineStartRequiresCredit(t *testing.T) {
	credits := &fakeCredits{remaining: 0}
	m, store, bus, _ := newTestMachine(t, testQuiz(2), credits)

	if err := m.Start(context.Background()); !errors.Is(err, errNoCredits) {
		t.Fatalf("Start() error = %v, want credit failure", err)
	}
	if len(store.snapshots) != 0 {
		t.Error("failed start must not persist state")
	}
	if bus.count(EventQuizStarted) != 0 {
		t.Error("failed start must not broadcast")
	}
}

func TestMachineStartEntersStrategyWindow(t *testing.T) {
	credits := &fakeCredits{remaining: 1}
	m, store, bus, fc := newTestMachine(t, testQuiz(2), credits)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if credits.consumed != 1 {
		t.Errorf("consumed = %d, want 1", credits.consumed)
	}
	if m.Phase() != PhaseThemeAnnouncement {
		t.Errorf("Phase() = %s, want theme_announcement", m.Phase())
	}
	if !m.InStrategyWindow() {
		t.Error("InStrategyWindow() = false after start")
	}

	snap := store.lastSnapshot()
	wantExpiry := fc.Now().Add(15 * time.Second).UnixMilli()
	if snap.PhaseExpiresAt != wantExpiry {
		t.Errorf("PhaseExpiresAt = %d, want %d", snap.PhaseExpiresAt, wantExpiry)
	}
	if bus.count(EventQuizStarted) != 1 || bus.count(EventPhaseChange) != 1 {
		t.Error("start must broadcast quiz_started then phase_change")
	}

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if credits.consumed != 1 {
		t.Error("second start must not consume another credit")
	}
}

func TestMachinePhaseSequence(t *testing.T) {
	m, store, _, _ := newTestMachine(t, testQuiz(2), nil)
	m.Start(context.Background())

	want := []struct {
		phase    Phase
		question int
	}{
		{PhaseQuestionDisplay, 0},
		{PhaseAnswerSelection, 0},
		{PhaseResults, 0},
		{PhaseIntermission, 0},
		{PhaseThemeAnnouncement, 1},
		{PhaseQuestionDisplay, 1},
		{PhaseAnswerSelection, 1},
		{PhaseResults, 1},
		{PhaseIntermission, 1},
		{PhaseQuizComplete, 1},
	}
	for _, step := range want {
		skip(t, m)
		if m.Phase() != step.phase || m.QuestionIndex() != step.question {
			t.Fatalf("got (%s, q%d), want (%s, q%d)",
				m.Phase(), m.QuestionIndex(), step.phase, step.question)
		}
	}

	snap := store.lastSnapshot()
	if snap.Phase != PhaseQuizComplete || snap.PhaseExpiresAt != 0 {
		t.Errorf("terminal snapshot = %+v, want quiz_complete with no expiry", snap)
	}
	if err := m.SkipPhase(context.Background()); !errors.Is(err, ErrQuizComplete) {
		t.Errorf("SkipPhase() after completion error = %v, want ErrQuizComplete", err)
	}
	if len(store.completed) != 1 {
		t.Errorf("CompleteSession calls = %d, want 1", len(store.completed))
	}
}

func TestMachineStageNumbers(t *testing.T) {
	m, store, _, _ := newTestMachine(t, testQuiz(3), nil)
	m.Start(context.Background())

	// QuestionsPerStage is 2: q0,q1 are stage 0, q2 is stage 1
	for i := 0; i < 5; i++ {
		skip(t, m) // through q0 into q1
	}
	if snap := store.lastSnapshot(); snap.StageNumber != 0 {
		t.Errorf("q1 StageNumber = %d, want 0", snap.StageNumber)
	}
	for i := 0; i < 5; i++ {
		skip(t, m) // through q1 into q2
	}
	if snap := store.lastSnapshot(); snap.StageNumber != 1 || snap.QuestionIndex != 2 {
		t.Errorf("snapshot = %+v, want q2 stage 1", snap)
	}
}

func TestMachineCommercialBreak(t *testing.T) {
	m, _, _, _ := newTestMachine(t, testQuiz(2, 0), nil)
	m.Start(context.Background())

	for i := 0; i < 5; i++ {
		skip(t, m) // q0 cycle ends
	}
	if m.Phase() != PhaseCommercialBreak {
		t.Fatalf("Phase() = %s, want commercial_break", m.Phase())
	}
	if m.QuestionIndex() != 0 {
		t.Errorf("QuestionIndex() = %d, break belongs to q0's boundary", m.QuestionIndex())
	}

	skip(t, m)
	if m.Phase() != PhaseThemeAnnouncement || m.QuestionIndex() != 1 {
		t.Errorf("got (%s, q%d), want theme_announcement q1", m.Phase(), m.QuestionIndex())
	}
}

func TestMachineJokerResolutionAtWindowClose(t *testing.T) {
	m, store, bus, _ := newTestMachine(t, testQuiz(2), nil)
	store.actions[0] = []JokerAction{
		{PlayerID: "alice", Type: JokerProtection, Timestamp: at(100), QuestionIndex: 0},
		{PlayerID: "bob", TargetID: "carol", Type: JokerBlock, Timestamp: at(200), QuestionIndex: 0},
	}
	m.Start(context.Background())

	skip(t, m) // theme -> display resolves the window
	if bus.count(EventJokersResolved) != 1 {
		t.Fatal("jokers_resolved not broadcast at window close")
	}
	eff := m.Effects()
	if !eff.Protections["alice"] || !eff.Blocks["carol"] {
		t.Errorf("effects = %+v, want alice protected and carol blocked", eff)
	}

	// Blocked player rejected at submission even past the UI guard
	skip(t, m) // display -> answer
	if _, err := m.SubmitAnswer(context.Background(), "carol", 0, "B"); !errors.Is(err, ErrPlayerBlocked) {
		t.Errorf("blocked submit error = %v, want ErrPlayerBlocked", err)
	}
}

func TestMachineEffectsClearedBetweenQuestions(t *testing.T) {
	m, store, _, _ := newTestMachine(t, testQuiz(2), nil)
	store.actions[0] = []JokerAction{
		{PlayerID: "bob", TargetID: "carol", Type: JokerBlock, Timestamp: at(100), QuestionIndex: 0},
	}
	m.Start(context.Background())

	for i := 0; i < 5; i++ {
		skip(t, m) // into q1's strategy window
	}
	if eff := m.Effects(); len(eff.Blocks) != 0 {
		t.Errorf("q0 block leaked into q1: %+v", eff.Blocks)
	}
}

func TestMachineSubmitAnswer(t *testing.T) {
	m, store, bus, _ := newTestMachine(t, testQuiz(2), nil)
	m.Start(context.Background())

	if _, err := m.SubmitAnswer(context.Background(), "alice", 0, "B"); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("submit during theme error = %v, want ErrWrongPhase", err)
	}

	skip(t, m)
	skip(t, m) // now answer_selection

	if _, err := m.SubmitAnswer(context.Background(), "alice", 1, "B"); !errors.Is(err, ErrStaleQuestion) {
		t.Errorf("stale index error = %v, want ErrStaleQuestion", err)
	}

	award, err := m.SubmitAnswer(context.Background(), "alice", 0, "B")
	if err != nil {
		t.Fatalf("SubmitAnswer() error = %v", err)
	}
	if award.Points != 100 || !award.Correct {
		t.Errorf("award = %+v, want 100 correct", award)
	}

	if _, err := m.SubmitAnswer(context.Background(), "alice", 0, "B"); !errors.Is(err, ErrDuplicateAnswer) {
		t.Errorf("duplicate error = %v, want ErrDuplicateAnswer", err)
	}

	award, err = m.SubmitAnswer(context.Background(), "bob", 0, "A")
	if err != nil {
		t.Fatalf("SubmitAnswer() error = %v", err)
	}
	if award.Points != 0 || award.Correct {
		t.Errorf("miss award = %+v, want 0 incorrect", award)
	}

	if len(store.awards) != 2 {
		t.Fatalf("persisted awards = %d, want 2", len(store.awards))
	}
	if store.awards[0] != (scoreCall{"alice", 100, true}) {
		t.Errorf("award[0] = %+v", store.awards[0])
	}
	if bus.count(EventScoreUpdated) != 2 {
		t.Errorf("score_updated broadcasts = %d, want 2", bus.count(EventScoreUpdated))
	}
}

func TestMachineStealRedistribution(t *testing.T) {
	m, store, bus, _ := newTestMachine(t, testQuiz(2), nil)
	store.actions[0] = []JokerAction{
		{PlayerID: "thief", TargetID: "victim", Type: JokerSteal, Timestamp: at(100), QuestionIndex: 0},
	}
	m.Start(context.Background())

	skip(t, m)
	skip(t, m) // answer_selection
	if _, err := m.SubmitAnswer(context.Background(), "victim", 0, "B"); err != nil {
		t.Fatalf("SubmitAnswer() error = %v", err)
	}

	skip(t, m) // results: steals applied on per-question deltas

	if len(store.adjusts) != 2 {
		t.Fatalf("adjusts = %+v, want debit and credit", store.adjusts)
	}
	if store.adjusts[0] != (adjustCall{"victim", -100}) {
		t.Errorf("debit = %+v, want victim -100", store.adjusts[0])
	}
	if store.adjusts[1] != (adjustCall{"thief", 100}) {
		t.Errorf("credit = %+v, want thief +100", store.adjusts[1])
	}
	// score_updated: 1 answer + 2 steal notifications
	if bus.count(EventScoreUpdated) != 3 {
		t.Errorf("score_updated broadcasts = %d, want 3", bus.count(EventScoreUpdated))
	}
}

func TestMachineStealOfNothingMovesNothing(t *testing.T) {
	m, store, _, _ := newTestMachine(t, testQuiz(2), nil)
	store.actions[0] = []JokerAction{
		{PlayerID: "thief", TargetID: "victim", Type: JokerSteal, Timestamp: at(100), QuestionIndex: 0},
	}
	m.Start(context.Background())

	skip(t, m)
	skip(t, m)
	skip(t, m) // victim never answered

	if len(store.adjusts) != 0 {
		t.Errorf("adjusts = %+v, want none for a zero transfer", store.adjusts)
	}
}

func TestMachinePauseResumeAccounting(t *testing.T) {
	m, store, _, fc := newTestMachine(t, testQuiz(2), nil)
	m.Start(context.Background())

	expiryBefore := store.lastSnapshot().PhaseExpiresAt

	fc.Advance(5 * time.Second)
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := m.SkipPhase(context.Background()); !errors.Is(err, ErrPaused) {
		t.Errorf("SkipPhase() while paused error = %v, want ErrPaused", err)
	}

	fc.Advance(30 * time.Second)
	if err := m.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	// The countdown continues where it stopped: expiry shifted by
	// exactly the paused interval.
	expiryAfter := store.lastSnapshot().PhaseExpiresAt
	if got, want := expiryAfter-expiryBefore, (30 * time.Second).Milliseconds(); got != want {
		t.Errorf("expiry shifted by %dms, want %dms", got, want)
	}
	if m.Phase() != PhaseThemeAnnouncement {
		t.Errorf("Phase() = %s, pause must not advance", m.Phase())
	}

	// Second pause/resume cycle accumulates independently
	fc.Advance(time.Second)
	m.Pause()
	fc.Advance(10 * time.Second)
	m.Resume(context.Background())

	expiryFinal := store.lastSnapshot().PhaseExpiresAt
	if got, want := expiryFinal-expiryAfter, (10 * time.Second).Milliseconds(); got != want {
		t.Errorf("second cycle shifted expiry by %dms, want %dms", got, want)
	}

	if err := m.Resume(context.Background()); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume() while running error = %v, want ErrNotPaused", err)
	}
}

func TestMachineJumpToPhase(t *testing.T) {
	m, store, _, fc := newTestMachine(t, testQuiz(2), nil)
	m.Start(context.Background())

	if err := m.JumpToPhase(context.Background(), PhaseResults); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("JumpToPhase() while running error = %v, want ErrNotPaused", err)
	}

	m.Pause()
	if err := m.JumpToPhase(context.Background(), PhaseCommercialBreak); !errors.Is(err, ErrUnknownPhase) {
		t.Errorf("jump to out-of-cycle phase error = %v, want ErrUnknownPhase", err)
	}

	if err := m.JumpToPhase(context.Background(), PhaseResults); err != nil {
		t.Fatalf("JumpToPhase() error = %v", err)
	}
	if m.Phase() != PhaseResults || m.QuestionIndex() != 0 {
		t.Errorf("got (%s, q%d), want (results, q0)", m.Phase(), m.QuestionIndex())
	}

	snap := store.lastSnapshot()
	wantExpiry := fc.Now().Add(10 * time.Second).UnixMilli()
	if snap.PhaseExpiresAt != wantExpiry {
		t.Errorf("jump expiry = %d, want fresh full duration %d", snap.PhaseExpiresAt, wantExpiry)
	}

	// Still paused after the jump; only post-jump pause time extends it
	fc.Advance(7 * time.Second)
	m.Resume(context.Background())
	if got, want := store.lastSnapshot().PhaseExpiresAt, wantExpiry+(7*time.Second).Milliseconds(); got != want {
		t.Errorf("post-resume expiry = %d, want %d", got, want)
	}
}

func TestMachineTimerBroadcasts(t *testing.T) {
	m, _, bus, fc := newTestMachine(t, testQuiz(1), nil)
	m.Start(context.Background())

	// Drive the embedded phase clock directly the way Run's poll loop does
	for i := 0; i < 8; i++ {
		m.phaseClock.Poll()
		fc.Advance(500 * time.Millisecond)
	}

	// 15s window polled through t=3.5s: seconds 15..12 observed once each
	if got := bus.count(EventTimerUpdate); got != 4 {
		t.Errorf("timer_update broadcasts = %d, want 4", got)
	}
}

func TestMachineOperationsBeforeStart(t *testing.T) {
	m, _, _, _ := newTestMachine(t, testQuiz(1), nil)

	if _, err := m.SubmitAnswer(context.Background(), "alice", 0, "B"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SubmitAnswer error = %v, want ErrNotStarted", err)
	}
	if err := m.SkipPhase(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SkipPhase error = %v, want ErrNotStarted", err)
	}
	if err := m.Pause(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Pause error = %v, want ErrNotStarted", err)
	}
}
