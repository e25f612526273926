// game/snapshot.go - Phase snapshot: the unit of broadcast and persisted truth
package game

import (
	"errors"
	"fmt"
	"time"
)

// Question is the engine's view of one quiz question. Content
// generation is an external collaborator; the engine only consumes the
// ordered list plus correct answer and point value.
type Question struct {
	Index         int      `json:"index"`
	Theme         string   `json:"theme"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        int      `json:"points"`
}

// Quiz is the full question sequence plus round configuration.
type Quiz struct {
	Title             string
	Questions         []Question
	QuestionsPerStage int
	// CommercialBreakAfter lists question indices after which a
	// commercial break is inserted before the next question.
	CommercialBreakAfter []int
	JokerAllotment       int
}

func (q Quiz) breakAfter(questionIndex int) bool {
	for _, idx := range q.CommercialBreakAfter {
		if idx == questionIndex {
			return true
		}
	}
	return false
}

// Snapshot is the authoritative description of "where the game is":
// persisted on every transition and broadcast best-effort. Followers
// that miss a broadcast recover by reading the persisted copy.
type Snapshot struct {
	SessionID      string    `json:"session_id"`
	Phase          Phase     `json:"phase"`
	QuestionIndex  int       `json:"question_index"`
	StageNumber    int       `json:"stage_number"`
	PhaseExpiresAt int64     `json:"phase_expires_at"` // wall clock, unix ms; 0 when terminal
	Question       *Question `json:"question,omitempty"`
	ThemeTitle     string    `json:"theme_title,omitempty"`
}

// Validate rejects snapshots that would corrupt a mirror if adopted:
// a missing session, a phase outside the fixed cycle, or a negative
// question index. Adopt paths check this before trusting any field.
func (s Snapshot) Validate() error {
	if s.SessionID == "" {
		return errors.New("snapshot missing session id")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("snapshot has unknown phase %q", s.Phase)
	}
	if s.QuestionIndex < 0 {
		return fmt.Errorf("snapshot has negative question index %d", s.QuestionIndex)
	}
	return nil
}

// ExpiryTime converts the wire millisecond timestamp back to a time.
func (s Snapshot) ExpiryTime() time.Time {
	if s.PhaseExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.PhaseExpiresAt)
}

// Supersedes reports whether s is strictly fresher than old. Question
// index is compared first (monotonically non-decreasing within a
// session), then phase position, then expiry. Followers only ever
// adopt superseding snapshots, which keeps every observed sequence a
// subsequence of the fixed phase order.
func (s Snapshot) Supersedes(old Snapshot) bool {
	if s.QuestionIndex != old.QuestionIndex {
		return s.QuestionIndex > old.QuestionIndex
	}
	if s.Phase != old.Phase {
		return s.Phase.rank() > old.Phase.rank()
	}
	return s.PhaseExpiresAt > old.PhaseExpiresAt
}
