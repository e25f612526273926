// services/session_service.go - Session persistence operations
package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"quizshow/database"
	"quizshow/game"
	"quizshow/models"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrPlayerNotFound   = errors.New("player not found in session")
	ErrNoJokersLeft     = errors.New("no uses left for this joker")
)

// SessionService owns all reads and writes of session state. It is the
// game.Store implementation the state machine persists through, and the
// game.SnapshotReader followers reconcile against.
type SessionService struct{}

func NewSessionService() *SessionService {
	return &SessionService{}
}

const roomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I

func generateRoomCode() string {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeChars))))
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken
			panic(fmt.Sprintf("room code generation: %v", err))
		}
		code[i] = roomCodeChars[n.Int64()]
	}
	return string(code)
}

// CreateSession persists a new waiting session with its full question
// sequence. Room codes are retried on the rare collision.
func (s *SessionService) CreateSession(hostID, title string, quiz game.Quiz) (*models.QuizSession, error) {
	db := database.GetDB()

	questions := make([]models.QuestionData, len(quiz.Questions))
	for i, q := range quiz.Questions {
		questions[i] = models.QuestionData{
			Index:         q.Index,
			Theme:         q.Theme,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		}
	}

	session := &models.QuizSession{
		SessionID:         uuid.New().String(),
		HostID:            hostID,
		Title:             title,
		Status:            models.SessionWaiting,
		QuestionsPerStage: quiz.QuestionsPerStage,
		JokerAllotment:    quiz.JokerAllotment,
	}
	if err := session.SetQuestions(questions); err != nil {
		return nil, fmt.Errorf("failed to encode questions: %w", err)
	}
	if err := session.SetCommercialBreaks(quiz.CommercialBreakAfter); err != nil {
		return nil, fmt.Errorf("failed to encode commercial breaks: %w", err)
	}

	for attempt := 0; attempt < 5; attempt++ {
		session.RoomCode = generateRoomCode()
		err := db.Create(session).Error
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
	}
	return nil, errors.New("failed to allocate a unique room code")
}

// GetSessionByCode looks a session up by its join code.
func (s *SessionService) GetSessionByCode(code string) (*models.QuizSession, error) {
	db := database.GetDB()

	var session models.QuizSession
	if err := db.Where("room_code = ?", code).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetSessionByID looks a session up by its UUID.
func (s *SessionService) GetSessionByID(sessionID string) (*models.QuizSession, error) {
	db := database.GetDB()

	var session models.QuizSession
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// StartSession flips waiting -> playing. The guarded update makes the
// transition one-way: a second start, or a start against a completed
// session, updates zero rows.
func (s *SessionService) StartSession(sessionID string) error {
	db := database.GetDB()

	now := time.Now().UTC()
	result := db.Model(&models.QuizSession{}).
		Where("session_id = ? AND status = ?", sessionID, models.SessionWaiting).
		Updates(map[string]interface{}{
			"status":     models.SessionPlaying,
			"started_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyStarted
	}
	return nil
}

// UpdateSessionPhase writes the authoritative phase snapshot. Called by
// the state machine on every transition.
func (s *SessionService) UpdateSessionPhase(ctx context.Context, snap game.Snapshot) error {
	db := database.GetDB().WithContext(ctx)

	return db.Model(&models.QuizSession{}).
		Where("session_id = ?", snap.SessionID).
		Updates(map[string]interface{}{
			"current_phase":    string(snap.Phase),
			"current_question": snap.QuestionIndex,
			"stage_number":     snap.StageNumber,
			"phase_expires_at": snap.PhaseExpiresAt,
			"theme_title":      snap.ThemeTitle,
		}).Error
}

// CompleteSession finalizes a session: marks it completed and assigns
// placements by total score. Ties share a placement.
func (s *SessionService) CompleteSession(ctx context.Context, sessionID string) error {
	db := database.GetDB().WithContext(ctx)

	now := time.Now().UTC()
	if err := db.Model(&models.QuizSession{}).
		Where("session_id = ? AND status = ?", sessionID, models.SessionPlaying).
		Updates(map[string]interface{}{
			"status":       models.SessionCompleted,
			"completed_at": now,
		}).Error; err != nil {
		return err
	}

	return db.Exec(`
		UPDATE session_players SET placement = ranked.rank
		FROM (
			SELECT id, RANK() OVER (ORDER BY total_score DESC, correct_answers DESC) AS rank
			FROM session_players WHERE session_id = ?
		) AS ranked
		WHERE session_players.id = ranked.id`, sessionID).Error
}

// StopSession marks a session as ended by the host before completion.
func (s *SessionService) StopSession(sessionID string) error {
	db := database.GetDB()

	now := time.Now().UTC()
	return db.Model(&models.QuizSession{}).
		Where("session_id = ? AND status IN ?", sessionID, []string{models.SessionWaiting, models.SessionPlaying}).
		Updates(map[string]interface{}{
			"status":       models.SessionStopped,
			"completed_at": now,
		}).Error
}

// AddPlayer registers a player in a waiting session and grants the
// session's joker allotment. Re-joining with the same player ID is a
// no-op that returns the existing row.
func (s *SessionService) AddPlayer(sessionID, playerID, username string, isHost bool, jokerAllotment int) (*models.SessionPlayer, error) {
	db := database.GetDB()

	var existing models.SessionPlayer
	err := db.Where("session_id = ? AND player_id = ?", sessionID, playerID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	player := &models.SessionPlayer{
		SessionID:        sessionID,
		PlayerID:         playerID,
		Username:         username,
		IsHost:           isHost,
		Connected:        true,
		JoinedAt:         time.Now().UTC(),
		ProtectionLeft:   jokerAllotment,
		BlockLeft:        jokerAllotment,
		StealLeft:        jokerAllotment,
		DoublePointsLeft: jokerAllotment,
	}
	if err := db.Create(player).Error; err != nil {
		return nil, err
	}
	return player, nil
}

// GetPlayer fetches one player row.
func (s *SessionService) GetPlayer(sessionID, playerID string) (*models.SessionPlayer, error) {
	db := database.GetDB()

	var player models.SessionPlayer
	if err := db.Where("session_id = ? AND player_id = ?", sessionID, playerID).First(&player).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

// GetPlayers returns all players of a session ordered by score.
func (s *SessionService) GetPlayers(sessionID string) ([]models.SessionPlayer, error) {
	db := database.GetDB()

	var players []models.SessionPlayer
	err := db.Where("session_id = ?", sessionID).
		Order("total_score DESC, correct_answers DESC").
		Find(&players).Error
	return players, err
}

// AwardScore applies one answer's outcome as a single atomic update.
// Score, answer counters and streaks all move in the same statement so
// concurrent submissions can never interleave a lost update.
func (s *SessionService) AwardScore(ctx context.Context, sessionID, playerID string, points int, correct bool) error {
	db := database.GetDB().WithContext(ctx)

	updates := map[string]interface{}{
		"total_score":        gorm.Expr("total_score + ?", points),
		"questions_answered": gorm.Expr("questions_answered + 1"),
	}
	if correct {
		updates["correct_answers"] = gorm.Expr("correct_answers + 1")
		updates["current_streak"] = gorm.Expr("current_streak + 1")
		updates["best_streak"] = gorm.Expr("GREATEST(best_streak, current_streak + 1)")
	} else {
		updates["current_streak"] = 0
	}

	result := db.Model(&models.SessionPlayer{}).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// AdjustScore moves a player's total by delta as an atomic increment.
// Used for steal redistribution, where delta may be negative.
func (s *SessionService) AdjustScore(ctx context.Context, sessionID, playerID string, delta int) error {
	db := database.GetDB().WithContext(ctx)

	result := db.Model(&models.SessionPlayer{}).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Update("total_score", gorm.Expr("total_score + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// UseJoker decrements a player's remaining uses of one joker type. The
// guarded decrement never goes below zero; a zero-row update means the
// player is out of that joker.
func (s *SessionService) UseJoker(sessionID, playerID string, jokerType game.JokerType) error {
	db := database.GetDB()

	var column string
	switch jokerType {
	case game.JokerProtection:
		column = "protection_left"
	case game.JokerBlock:
		column = "block_left"
	case game.JokerSteal:
		column = "steal_left"
	case game.JokerDoublePoints:
		column = "double_points_left"
	default:
		return fmt.Errorf("unknown joker type %q", jokerType)
	}

	result := db.Model(&models.SessionPlayer{}).
		Where("session_id = ? AND player_id = ? AND "+column+" > 0", sessionID, playerID).
		Update(column, gorm.Expr(column+" - 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNoJokersLeft
	}
	return nil
}

// InsertJokerAction appends one joker use fact.
func (s *SessionService) InsertJokerAction(sessionID string, action game.JokerAction) error {
	db := database.GetDB()

	record := &models.JokerActionRecord{
		SessionID:      sessionID,
		PlayerID:       action.PlayerID,
		TargetPlayerID: action.TargetID,
		ActionType:     string(action.Type),
		QuestionIndex:  action.QuestionIndex,
		Timestamp:      action.Timestamp,
	}
	return db.Create(record).Error
}

// JokerActions loads one question's joker actions for resolution.
// Ordering happens in the resolver; the query just fetches the set.
func (s *SessionService) JokerActions(ctx context.Context, sessionID string, questionIndex int) ([]game.JokerAction, error) {
	db := database.GetDB().WithContext(ctx)

	var records []models.JokerActionRecord
	if err := db.Where("session_id = ? AND question_index = ?", sessionID, questionIndex).
		Order("timestamp ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	actions := make([]game.JokerAction, len(records))
	for i, r := range records {
		actions[i] = game.JokerAction{
			PlayerID:      r.PlayerID,
			TargetID:      r.TargetPlayerID,
			Type:          game.JokerType(r.ActionType),
			Timestamp:     r.Timestamp,
			QuestionIndex: r.QuestionIndex,
		}
	}
	return actions, nil
}

// LogEvent appends one audit event. Failures are logged, never fatal;
// the audit trail is diagnostic, not load-bearing.
func (s *SessionService) LogEvent(sessionID, eventType, playerID string, questionIndex *int, data interface{}) {
	db := database.GetDB()

	event := &models.SessionEvent{
		SessionID:     sessionID,
		EventType:     eventType,
		PlayerID:      playerID,
		QuestionIndex: questionIndex,
		Timestamp:     time.Now().UTC(),
	}
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			event.EventData = string(encoded)
		}
	}
	if err := db.Create(event).Error; err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("event_type", eventType).Msg("failed to log session event")
	}
}

// RecordDisconnect marks a player disconnected without removing them;
// their score and joker inventory survive for reconnection.
func (s *SessionService) RecordDisconnect(sessionID, playerID string) error {
	db := database.GetDB()

	now := time.Now().UTC()
	return db.Model(&models.SessionPlayer{}).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Updates(map[string]interface{}{
			"connected":       false,
			"disconnected_at": now,
		}).Error
}

// RecordReconnect marks a player connected again.
func (s *SessionService) RecordReconnect(sessionID, playerID string) error {
	db := database.GetDB()

	now := time.Now().UTC()
	return db.Model(&models.SessionPlayer{}).
		Where("session_id = ? AND player_id = ?", sessionID, playerID).
		Updates(map[string]interface{}{
			"connected":      true,
			"reconnected_at": now,
		}).Error
}

// LeaderboardEntry is one row of the post-game standings.
type LeaderboardEntry struct {
	PlayerID       string  `json:"player_id"`
	Username       string  `json:"username"`
	TotalScore     int     `json:"total_score"`
	CorrectAnswers int     `json:"correct_answers"`
	BestStreak     int     `json:"best_streak"`
	Accuracy       float64 `json:"accuracy"`
	Placement      int     `json:"placement"`
}

// Leaderboard returns the session standings ordered by score.
func (s *SessionService) Leaderboard(sessionID string) ([]LeaderboardEntry, error) {
	players, err := s.GetPlayers(sessionID)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(players))
	for i, p := range players {
		placement := p.Placement
		if placement == 0 {
			placement = i + 1 // session still running, derive from order
		}
		entries = append(entries, LeaderboardEntry{
			PlayerID:       p.PlayerID,
			Username:       p.Username,
			TotalScore:     p.TotalScore,
			CorrectAnswers: p.CorrectAnswers,
			BestStreak:     p.BestStreak,
			Accuracy:       p.AccuracyRate(),
			Placement:      placement,
		})
	}
	return entries, nil
}

// Snapshot reads the persisted phase snapshot back into engine form.
// This is the reconciliation read path for followers.
func (s *SessionService) Snapshot(ctx context.Context, sessionID string) (game.Snapshot, error) {
	db := database.GetDB().WithContext(ctx)

	var session models.QuizSession
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return game.Snapshot{}, ErrSessionNotFound
		}
		return game.Snapshot{}, err
	}
	return snapshotFromSession(&session)
}

// snapshotFromSession converts a session row to a game.Snapshot,
// including the current question's content.
func snapshotFromSession(session *models.QuizSession) (game.Snapshot, error) {
	snap := game.Snapshot{
		SessionID:      session.SessionID,
		Phase:          game.Phase(session.CurrentPhase),
		QuestionIndex:  session.CurrentQuestion,
		StageNumber:    session.StageNumber,
		PhaseExpiresAt: session.PhaseExpiresAt,
		ThemeTitle:     session.ThemeTitle,
	}

	// A waiting session has no phase yet; once the quiz has started the
	// stored row must round-trip through a valid snapshot.
	if session.CurrentPhase != "" {
		if err := snap.Validate(); err != nil {
			return game.Snapshot{}, fmt.Errorf("corrupt session state: %w", err)
		}
	}

	questions, err := session.GetQuestions()
	if err != nil {
		return snap, fmt.Errorf("failed to decode questions: %w", err)
	}
	if session.CurrentQuestion >= 0 && session.CurrentQuestion < len(questions) {
		q := questions[session.CurrentQuestion]
		snap.Question = &game.Question{
			Index:         q.Index,
			Theme:         q.Theme,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		}
	}
	return snap, nil
}

// LoadQuiz rebuilds the engine's quiz from a persisted session.
func (s *SessionService) LoadQuiz(session *models.QuizSession) (game.Quiz, error) {
	questions, err := session.GetQuestions()
	if err != nil {
		return game.Quiz{}, fmt.Errorf("failed to decode questions: %w", err)
	}
	breaks, err := session.GetCommercialBreaks()
	if err != nil {
		return game.Quiz{}, fmt.Errorf("failed to decode commercial breaks: %w", err)
	}

	quiz := game.Quiz{
		Title:                session.Title,
		QuestionsPerStage:    session.QuestionsPerStage,
		CommercialBreakAfter: breaks,
		JokerAllotment:       session.JokerAllotment,
		Questions:            make([]game.Question, len(questions)),
	}
	for i, q := range questions {
		quiz.Questions[i] = game.Question{
			Index:         q.Index,
			Theme:         q.Theme,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Points:        q.Points,
		}
	}
	return quiz, nil
}
