// realtime/events.go - Wire envelope and event payloads
package realtime

import "fmt"

// Event is the wire envelope for every websocket message in both
// directions.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Server-originated event types. Game state events carry the payloads
// defined in the game package; the rest are connection lifecycle.
const (
	EventConnected       = "connected"
	EventSessionState    = "session_state"
	EventPlayerJoined    = "player_joined"
	EventPlayerLeft      = "player_left"
	EventPlayerReconnect = "player_reconnected"
	EventSessionNotFound = "session_not_found"
	EventError           = "error"
	EventPong            = "pong"
)

// SnapshotPayload is the resync answer sent to a client that asked for
// current state or just (re)subscribed. Mirrors game.Snapshot plus the
// fields a client needs to render without further round trips.
type SnapshotPayload struct {
	SessionID      string      `json:"session_id"`
	RoomCode       string      `json:"room_code"`
	Status         string      `json:"status"`
	Phase          string      `json:"phase"`
	QuestionIndex  int         `json:"question_index"`
	StageNumber    int         `json:"stage_number"`
	PhaseExpiresAt int64       `json:"phase_expires_at"` // unix ms
	ThemeTitle     string      `json:"theme_title,omitempty"`
	Question       interface{} `json:"question,omitempty"`
	Players        interface{} `json:"players,omitempty"`
}

// Validate catches snapshots that would desync a client if rendered.
func (s *SnapshotPayload) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("snapshot missing session_id")
	}
	if s.Phase == "" {
		return fmt.Errorf("snapshot missing phase")
	}
	if s.QuestionIndex < 0 {
		return fmt.Errorf("snapshot has negative question_index %d", s.QuestionIndex)
	}
	return nil
}
