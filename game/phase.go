// game/phase.go - Round phase model
package game

import "time"

// Phase is one discrete named period within a question's lifecycle.
type Phase string

const (
	PhaseThemeAnnouncement Phase = "theme_announcement" // strategy window: jokers may be played
	PhaseQuestionDisplay   Phase = "question_display"
	PhaseAnswerSelection   Phase = "answer_selection"
	PhaseResults           Phase = "results"
	PhaseIntermission      Phase = "intermission"

	// PhaseCommercialBreak is inserted between questions at configured
	// indices; it is not part of the per-question cycle.
	PhaseCommercialBreak Phase = "commercial_break"

	// PhaseQuizComplete is terminal.
	PhaseQuizComplete Phase = "quiz_complete"
)

// phaseOrder is the fixed per-question cycle. After the last entry the
// machine wraps to the next question's theme_announcement.
var phaseOrder = []Phase{
	PhaseThemeAnnouncement,
	PhaseQuestionDisplay,
	PhaseAnswerSelection,
	PhaseResults,
	PhaseIntermission,
}

// phaseDurations is the fixed nominal duration table in seconds.
var phaseDurations = map[Phase]time.Duration{
	PhaseThemeAnnouncement: 15 * time.Second,
	PhaseQuestionDisplay:   15 * time.Second,
	PhaseAnswerSelection:   20 * time.Second,
	PhaseResults:           10 * time.Second,
	PhaseIntermission:      5 * time.Second,
	PhaseCommercialBreak:   30 * time.Second,
	PhaseQuizComplete:      0,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseDurations[p]
	return ok
}

// Duration returns the nominal duration of the phase.
func (p Phase) Duration() time.Duration {
	return phaseDurations[p]
}

// Terminal reports whether p ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseQuizComplete
}

// InQuestionCycle reports whether p belongs to the per-question cycle
// (i.e. is a legal target for a manual phase jump).
func (p Phase) InQuestionCycle() bool {
	for _, q := range phaseOrder {
		if q == p {
			return true
		}
	}
	return false
}

// rank orders phases for snapshot freshness comparison: within one
// question, a later phase supersedes an earlier one. The commercial
// break sits after intermission, quiz_complete after everything.
func (p Phase) rank() int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	switch p {
	case PhaseCommercialBreak:
		return len(phaseOrder)
	case PhaseQuizComplete:
		return len(phaseOrder) + 1
	}
	return -1
}

// nextInCycle returns the phase after p in the fixed order and whether
// p was the last phase of the cycle (so the question wraps).
func nextInCycle(p Phase) (Phase, bool) {
	for i, q := range phaseOrder {
		if q != p {
			continue
		}
		if i == len(phaseOrder)-1 {
			return phaseOrder[0], true
		}
		return phaseOrder[i+1], false
	}
	// Out-of-band phases resume the cycle at the strategy window.
	return phaseOrder[0], true
}

// StageNumber derives the stage for a question position. It is a pure
// function of position, never tracked separately.
func StageNumber(questionIndex, questionsPerStage int) int {
	if questionsPerStage <= 0 {
		return 0
	}
	return questionIndex / questionsPerStage
}
