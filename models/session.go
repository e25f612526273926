// models/session.go - Quiz session persistence
package models

import (
	"encoding/json"
	"time"
)

// Session status values. waiting -> playing is one-way; a session ends
// completed (question sequence exhausted) or stopped (host ended it).
const (
	SessionWaiting   = "waiting"
	SessionPlaying   = "playing"
	SessionCompleted = "completed"
	SessionStopped   = "stopped"
)

// QuizSession is the durable session row. The phase snapshot columns
// are the authoritative game state: the host writes them on every
// transition and followers poll them when broadcasts go missing.
type QuizSession struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SessionID string `json:"session_id" gorm:"uniqueIndex;not null;size:100"` // UUID
	RoomCode  string `json:"room_code" gorm:"uniqueIndex;not null;size:10"`
	HostID    string `json:"host_id" gorm:"index;not null;size:100"`
	Title     string `json:"title" gorm:"size:200"`

	// Phase snapshot (authoritative, host-written)
	Status          string `json:"status" gorm:"default:'waiting';size:20;index"`
	CurrentPhase    string `json:"current_phase" gorm:"size:30"`
	CurrentQuestion int    `json:"current_question" gorm:"default:0"`
	StageNumber     int    `json:"stage_number" gorm:"default:0"`
	PhaseExpiresAt  int64  `json:"phase_expires_at" gorm:"default:0"` // unix ms, 0 = no running timer
	ThemeTitle      string `json:"theme_title" gorm:"size:200"`

	// Quiz content and round configuration
	QuestionsJSON        string `json:"questions_json" gorm:"type:text"`
	QuestionsPerStage    int    `json:"questions_per_stage" gorm:"default:5"`
	CommercialBreaksJSON string `json:"commercial_breaks_json" gorm:"type:text"` // JSON array of question indices
	JokerAllotment       int    `json:"joker_allotment" gorm:"default:1"`        // uses per joker type per session

	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Loaded via explicit queries, not enforced at DB level on parent
	Players []SessionPlayer `json:"players,omitempty" gorm:"-"`
}

func (QuizSession) TableName() string {
	return "quiz_sessions"
}

// IsActive checks if the session is joinable or running.
func (s *QuizSession) IsActive() bool {
	return s.Status == SessionWaiting || s.Status == SessionPlaying
}

// QuestionData is a single persisted quiz question.
type QuestionData struct {
	Index         int      `json:"index"`
	Theme         string   `json:"theme"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        int      `json:"points"`
}

func (s *QuizSession) GetQuestions() ([]QuestionData, error) {
	var questions []QuestionData
	if s.QuestionsJSON == "" {
		return questions, nil
	}
	err := json.Unmarshal([]byte(s.QuestionsJSON), &questions)
	return questions, err
}

func (s *QuizSession) SetQuestions(questions []QuestionData) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	s.QuestionsJSON = string(data)
	return nil
}

func (s *QuizSession) GetCommercialBreaks() ([]int, error) {
	var breaks []int
	if s.CommercialBreaksJSON == "" {
		return breaks, nil
	}
	err := json.Unmarshal([]byte(s.CommercialBreaksJSON), &breaks)
	return breaks, err
}

func (s *QuizSession) SetCommercialBreaks(breaks []int) error {
	data, err := json.Marshal(breaks)
	if err != nil {
		return err
	}
	s.CommercialBreaksJSON = string(data)
	return nil
}
