// models/joker.go - Append-only joker action facts
package models

import "time"

// JokerActionRecord is one joker use submitted during a strategy
// window. Rows are append-only facts: inserted once, never updated.
// Resolution re-derives effects from them, so replaying resolution is
// always safe.
type JokerActionRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	SessionID      string    `json:"session_id" gorm:"not null;index;size:100"`
	PlayerID       string    `json:"player_id" gorm:"not null;index;size:100"`
	TargetPlayerID string    `json:"target_player_id" gorm:"size:100"` // empty for self-targeted types
	ActionType     string    `json:"action_type" gorm:"not null;size:20"`
	QuestionIndex  int       `json:"question_index" gorm:"not null;index"`
	Timestamp      time.Time `json:"timestamp" gorm:"not null;index"` // client submission wall clock

	CreatedAt time.Time `json:"created_at"`
}

func (JokerActionRecord) TableName() string {
	return "joker_actions"
}
