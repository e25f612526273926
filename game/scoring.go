// game/scoring.go - Scoring ledger with joker effect application
package game

import (
	"errors"
	"sort"
)

var (
	// ErrPlayerBlocked rejects an answer from a blocked player.
	ErrPlayerBlocked = errors.New("player is blocked for this question")

	// ErrDuplicateAnswer marks a repeat submission for the same
	// (player, question) pair; callers treat it as a silent no-op.
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")
)

type answerKey struct {
	playerID      string
	questionIndex int
}

// Award is the outcome of a single answer submission.
type Award struct {
	PlayerID      string `json:"player_id"`
	QuestionIndex int    `json:"question_index"`
	Points        int    `json:"points"`
	Correct       bool   `json:"correct"`
	Doubled       bool   `json:"doubled"`
}

// Transfer moves a victim's per-question points to a thief. A zero
// amount is legitimate (the victim scored nothing to steal).
type Transfer struct {
	VictimID      string `json:"victim_id"`
	ThiefID       string `json:"thief_id"`
	QuestionIndex int    `json:"question_index"`
	Points        int    `json:"points"`
}

// Ledger tracks per-question point deltas for one session. Steal
// redistribution operates on these deltas, never on lifetime scores,
// so a steal can only drain what the victim earned on that question.
type Ledger struct {
	awarded       map[answerKey]int
	stealsApplied map[int]bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		awarded:       make(map[answerKey]int),
		stealsApplied: make(map[int]bool),
	}
}

// AwardAnswer applies one answer submission. Blocked players are
// rejected even if the UI guard was bypassed. A duplicate submission
// for the same (player, question) returns ErrDuplicateAnswer and never
// double-counts. Incorrect answers are recorded too, so re-answering
// after a miss earns nothing.
func (l *Ledger) AwardAnswer(playerID string, questionIndex, basePoints int, correct bool, eff Effects) (Award, error) {
	award := Award{PlayerID: playerID, QuestionIndex: questionIndex, Correct: correct}

	if eff.Blocks[playerID] {
		return award, ErrPlayerBlocked
	}

	key := answerKey{playerID: playerID, questionIndex: questionIndex}
	if _, dup := l.awarded[key]; dup {
		return award, ErrDuplicateAnswer
	}

	points := 0
	if correct {
		points = basePoints
		if eff.DoublePoints[playerID] {
			points *= 2
			award.Doubled = true
		}
	}
	l.awarded[key] = points
	award.Points = points
	return award, nil
}

// QuestionPoints returns the points a player earned for one question.
func (l *Ledger) QuestionPoints(playerID string, questionIndex int) int {
	return l.awarded[answerKey{playerID: playerID, questionIndex: questionIndex}]
}

// ApplySteals redistributes per-question points for every resolved
// steal. Each transfer moves what the victim EARNED on this question,
// snapshotted before any transfer is applied: a thief who is also a
// victim (a steals from b while c steals from a) hands over only their
// own earnings, never points just stolen to them, so the outcome is
// independent of processing order. Total points across all players are
// unchanged. Calling it again for the same question is a no-op, so
// replayed transitions cannot drain a victim twice.
func (l *Ledger) ApplySteals(questionIndex int, eff Effects) []Transfer {
	if l.stealsApplied[questionIndex] {
		return nil
	}
	l.stealsApplied[questionIndex] = true

	victims := make([]string, 0, len(eff.Steals))
	for victim := range eff.Steals {
		victims = append(victims, victim)
	}
	sort.Strings(victims)

	earned := make(map[string]int, len(victims))
	for _, victim := range victims {
		earned[victim] = l.awarded[answerKey{playerID: victim, questionIndex: questionIndex}]
	}

	transfers := make([]Transfer, 0, len(victims))
	for _, victim := range victims {
		thief := eff.Steals[victim]
		points := earned[victim]
		l.awarded[answerKey{playerID: victim, questionIndex: questionIndex}] -= points
		l.awarded[answerKey{playerID: thief, questionIndex: questionIndex}] += points

		transfers = append(transfers, Transfer{
			VictimID:      victim,
			ThiefID:       thief,
			QuestionIndex: questionIndex,
			Points:        points,
		})
	}
	return transfers
}
