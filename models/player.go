// models/player.go - Session-scoped player rows
package models

import "time"

// SessionPlayer is a player's participation in one session. Rows are
// created on join and soft-persist after the game for the final
// leaderboard; they are never deleted mid-session.
type SessionPlayer struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SessionID string `json:"session_id" gorm:"not null;index:idx_session_player,unique;size:100"`
	PlayerID  string `json:"player_id" gorm:"not null;index:idx_session_player,unique;size:100"`
	Username  string `json:"username" gorm:"size:100"`
	IsHost    bool   `json:"is_host" gorm:"default:false"`

	// Cumulative score state. Mutated only through atomic increments;
	// see services.SessionService.
	TotalScore        int `json:"total_score" gorm:"default:0"`
	CorrectAnswers    int `json:"correct_answers" gorm:"default:0"`
	QuestionsAnswered int `json:"questions_answered" gorm:"default:0"`
	CurrentStreak     int `json:"current_streak" gorm:"default:0"`
	BestStreak        int `json:"best_streak" gorm:"default:0"`
	Placement         int `json:"placement" gorm:"default:0"` // 1st, 2nd, ... assigned on completion

	// Joker inventory remaining. Monotonically decreasing, never
	// negative (guarded decrement in the service layer).
	ProtectionLeft   int `json:"protection_left" gorm:"default:0"`
	BlockLeft        int `json:"block_left" gorm:"default:0"`
	StealLeft        int `json:"steal_left" gorm:"default:0"`
	DoublePointsLeft int `json:"double_points_left" gorm:"default:0"`

	// Connectivity
	Connected      bool       `json:"connected" gorm:"default:true"`
	JoinedAt       time.Time  `json:"joined_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
	ReconnectedAt  *time.Time `json:"reconnected_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SessionPlayer) TableName() string {
	return "session_players"
}

// AccuracyRate returns the percentage of correct answers.
func (p *SessionPlayer) AccuracyRate() float64 {
	if p.QuestionsAnswered == 0 {
		return 0
	}
	return float64(p.CorrectAnswers) / float64(p.QuestionsAnswered) * 100
}

// JokersLeft returns the remaining count for one joker type column.
func (p *SessionPlayer) JokersLeft(jokerType string) int {
	switch jokerType {
	case "protection":
		return p.ProtectionLeft
	case "block":
		return p.BlockLeft
	case "steal":
		return p.StealLeft
	case "double_points":
		return p.DoublePointsLeft
	}
	return 0
}
