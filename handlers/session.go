// handlers/session.go - Session REST endpoints
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quizshow/game"
	"quizshow/middleware"
	"quizshow/models"
	"quizshow/services"
)

// SessionHandler serves session creation and the read paths clients use
// to join and resync.
type SessionHandler struct {
	sessions  *services.SessionService
	generator *services.QuizGenerator
}

func NewSessionHandler(sessions *services.SessionService, generator *services.QuizGenerator) *SessionHandler {
	return &SessionHandler{sessions: sessions, generator: generator}
}

// CreateSession generates quiz content and persists a waiting session.
// POST /api/sessions (host auth)
func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	hostID, err := middleware.GetHostID(c)
	if err != nil {
		return err
	}

	var req services.QuizRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	quiz, err := h.generator.GenerateQuiz(req)
	if err != nil {
		log.Error().Err(err).Str("host_id", hostID).Msg("quiz generation failed")
		return c.Status(502).JSON(fiber.Map{"error": "Failed to generate quiz content"})
	}

	session, err := h.sessions.CreateSession(hostID, quiz.Title, quiz)
	if err != nil {
		log.Error().Err(err).Str("host_id", hostID).Msg("session creation failed")
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create session"})
	}

	h.sessions.LogEvent(session.SessionID, "session_created", hostID, nil, fiber.Map{
		"room_code": session.RoomCode,
		"questions": len(quiz.Questions),
	})

	return c.Status(201).JSON(fiber.Map{
		"session_id": session.SessionID,
		"room_code":  session.RoomCode,
		"title":      session.Title,
		"status":     session.Status,
		"questions":  len(quiz.Questions),
	})
}

// GetSessionState is the HTTP resync path: the persisted snapshot plus
// the player list. Followers that missed broadcasts read this. The
// correct answer is stripped outside the results phase.
// GET /api/sessions/:code/state
func (h *SessionHandler) GetSessionState(c *fiber.Ctx) error {
	session, err := h.sessions.GetSessionByCode(c.Params("code"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "Session not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load session"})
	}

	players, err := h.sessions.GetPlayers(session.SessionID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load players"})
	}

	snap, err := h.sessions.Snapshot(c.Context(), session.SessionID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load session state"})
	}

	question := sanitizeQuestion(snap.Question, snap.Phase)

	return c.JSON(fiber.Map{
		"session_id":       session.SessionID,
		"room_code":        session.RoomCode,
		"title":            session.Title,
		"status":           session.Status,
		"phase":            snap.Phase,
		"question_index":   snap.QuestionIndex,
		"stage_number":     snap.StageNumber,
		"phase_expires_at": snap.PhaseExpiresAt,
		"theme_title":      snap.ThemeTitle,
		"question":         question,
		"players":          playerSummaries(players),
	})
}

// JoinSession registers a player over HTTP before the websocket
// subscription comes up. Rejoining with the same player ID returns the
// existing row unchanged.
// POST /api/sessions/:code/join
func (h *SessionHandler) JoinSession(c *fiber.Ctx) error {
	session, err := h.sessions.GetSessionByCode(c.Params("code"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "Session not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load session"})
	}
	if !session.IsActive() {
		return c.Status(410).JSON(fiber.Map{"error": "Session has ended"})
	}

	var body struct {
		PlayerID string `json:"player_id"`
		Username string `json:"username"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if body.PlayerID == "" {
		body.PlayerID = uuid.New().String()
	}
	if body.Username == "" {
		body.Username = "Player" + body.PlayerID[:6]
	}

	isHost := session.HostID == body.PlayerID
	player, err := h.sessions.AddPlayer(session.SessionID, body.PlayerID, body.Username, isHost, session.JokerAllotment)
	if err != nil {
		log.Error().Err(err).Str("session_id", session.SessionID).Msg("join failed")
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join session"})
	}

	h.sessions.LogEvent(session.SessionID, "player_joined", player.PlayerID, nil, nil)
	return c.Status(201).JSON(fiber.Map{
		"session_id": session.SessionID,
		"room_code":  session.RoomCode,
		"player_id":  player.PlayerID,
		"username":   player.Username,
		"is_host":    player.IsHost,
	})
}

// GetLeaderboard returns the session standings.
// GET /api/sessions/:code/leaderboard
func (h *SessionHandler) GetLeaderboard(c *fiber.Ctx) error {
	session, err := h.sessions.GetSessionByCode(c.Params("code"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "Session not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load session"})
	}

	entries, err := h.sessions.Leaderboard(session.SessionID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load leaderboard"})
	}

	return c.JSON(fiber.Map{
		"session_id":  session.SessionID,
		"status":      session.Status,
		"leaderboard": entries,
	})
}

// StopSession lets the host end a session early.
// POST /api/sessions/:code/stop (host auth)
func (h *SessionHandler) StopSession(c *fiber.Ctx) error {
	hostID, err := middleware.GetHostID(c)
	if err != nil {
		return err
	}

	session, err := h.sessions.GetSessionByCode(c.Params("code"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "Session not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load session"})
	}
	if session.HostID != hostID {
		return c.Status(403).JSON(fiber.Map{"error": "Only the host can stop the session"})
	}

	if err := h.sessions.StopSession(session.SessionID); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to stop session"})
	}

	h.sessions.LogEvent(session.SessionID, "session_stopped", hostID, nil, nil)
	return c.JSON(fiber.Map{"status": models.SessionStopped})
}

// sanitizeQuestion strips what the current phase has not yet revealed:
// no content during theme announcement, no correct answer until
// results.
func sanitizeQuestion(q *game.Question, phase game.Phase) fiber.Map {
	if q == nil {
		return nil
	}

	view := fiber.Map{
		"index":  q.Index,
		"theme":  q.Theme,
		"points": q.Points,
	}
	if phase == game.PhaseThemeAnnouncement {
		return view
	}
	view["text"] = q.Text
	view["options"] = q.Options
	if phase == game.PhaseResults || phase == game.PhaseQuizComplete {
		view["correct_answer"] = q.CorrectAnswer
	}
	return view
}

func playerSummaries(players []models.SessionPlayer) []fiber.Map {
	out := make([]fiber.Map, 0, len(players))
	for _, p := range players {
		out = append(out, fiber.Map{
			"player_id":       p.PlayerID,
			"username":        p.Username,
			"is_host":         p.IsHost,
			"total_score":     p.TotalScore,
			"correct_answers": p.CorrectAnswers,
			"current_streak":  p.CurrentStreak,
			"connected":       p.Connected,
			"placement":       p.Placement,
			"jokers": fiber.Map{
				"protection":    p.JokersLeft("protection"),
				"block":         p.JokersLeft("block"),
				"steal":         p.JokersLeft("steal"),
				"double_points": p.JokersLeft("double_points"),
			},
		})
	}
	return out
}
