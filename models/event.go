// models/event.go - Session audit events
package models

import "time"

// SessionEvent records something that happened during a session:
// phase transitions, joins, answers, joker uses, completion. Useful
// for debugging desyncs after the fact.
type SessionEvent struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SessionID string `json:"session_id" gorm:"not null;index;size:100"`
	EventType string `json:"event_type" gorm:"not null;size:50;index"`
	PlayerID  string `json:"player_id" gorm:"index;size:100"` // empty for session-level events

	// Event-specific data as JSON
	EventData string `json:"event_data" gorm:"type:text"`

	QuestionIndex *int `json:"question_index"` // nil for events outside a question

	Timestamp time.Time `json:"timestamp" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (SessionEvent) TableName() string {
	return "session_events"
}
