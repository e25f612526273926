// handlers/ws.go - Websocket protocol: join, host controls, answers, jokers
package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"quizshow/game"
	"quizshow/models"
	"quizshow/realtime"
	"quizshow/services"
	"quizshow/utils"
)

// runningGame is one live state machine plus its lifecycle handle.
type runningGame struct {
	machine   *game.Machine
	cancel    context.CancelFunc
	sessionID string
	hostID    string
}

// GameRegistry tracks the machines of sessions currently playing on
// this process, keyed by room code.
type GameRegistry struct {
	mu    sync.Mutex
	games map[string]*runningGame
}

func NewGameRegistry() *GameRegistry {
	return &GameRegistry{games: make(map[string]*runningGame)}
}

func (r *GameRegistry) get(code string) *runningGame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.games[code]
}

// reserve claims the room code for rg under one lock acquisition, so
// two concurrent start requests cannot both pass a check-then-insert
// and spin up two machines for the same session. The caller releases a
// failed reservation with remove.
func (r *GameRegistry) reserve(code string, rg *runningGame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.games[code]; exists {
		return false
	}
	r.games[code] = rg
	return true
}

func (r *GameRegistry) remove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, code)
}

// WSHandler owns the websocket message protocol.
type WSHandler struct {
	hub      *realtime.Hub
	sessions *services.SessionService
	credits  *services.CreditService
	registry *GameRegistry
}

func NewWSHandler(hub *realtime.Hub, sessions *services.SessionService, credits *services.CreditService) *WSHandler {
	return &WSHandler{
		hub:      hub,
		sessions: sessions,
		credits:  credits,
		registry: NewGameRegistry(),
	}
}

// HandleConnection runs one websocket connection to completion. The
// upgrade middleware has already stored identity in locals; anonymous
// connections get a fresh player ID for the lifetime of the session.
func (h *WSHandler) HandleConnection(conn *websocket.Conn) {
	playerID, _ := conn.Locals("playerId").(string)
	username, _ := conn.Locals("username").(string)
	if playerID == "" {
		playerID = uuid.New().String()
	}
	if username == "" {
		username = "Player" + playerID[:6]
	}

	client := realtime.NewClient(conn, playerID, username, realtime.RolePlayer)

	client.Send(realtime.EventConnected, map[string]interface{}{
		"player_id": playerID,
		"username":  username,
	})

	go client.WritePump()
	client.ReadPump(h.handleEvent)

	h.cleanup(client)
}

func (h *WSHandler) cleanup(client *realtime.Client) {
	client.Close()
	if client.Code == "" {
		return
	}
	h.hub.Unregister(client)

	if client.Role == realtime.RolePlayer && client.SessionID != "" {
		if err := h.sessions.RecordDisconnect(client.SessionID, client.PlayerID); err != nil {
			zlog.Warn().Err(err).Str("player_id", client.PlayerID).Msg("failed to record disconnect")
		}
		h.hub.Broadcast(client.Code, realtime.EventPlayerLeft, map[string]interface{}{
			"player_id": client.PlayerID,
			"username":  client.Username,
		})
	}
}

func (h *WSHandler) handleEvent(client *realtime.Client, event realtime.Event) {
	data := utils.ParsePayload(event.Payload)

	switch event.Type {
	case "join_session", "reconnect":
		h.handleJoin(client, data)
	case "start_quiz":
		h.handleStartQuiz(client)
	case "submit_answer":
		h.handleSubmitAnswer(client, data)
	case "use_joker":
		h.handleUseJoker(client, data)
	case "skip_phase":
		h.handleHostControl(client, "skip_phase", data)
	case "pause", "pause_quiz":
		h.handleHostControl(client, "pause_quiz", data)
	case "resume", "resume_quiz":
		h.handleHostControl(client, "resume_quiz", data)
	case "jump_phase":
		h.handleHostControl(client, "jump_phase", data)
	case "request_state":
		h.sendSessionState(client)
	case "ping":
		client.Send(realtime.EventPong, nil)
	default:
		client.Send(realtime.EventError, map[string]interface{}{
			"message": "unknown event type: " + event.Type,
		})
	}
}

// handleJoin subscribes the connection to a session. An unknown room
// code is fatal for the protocol: the client is told and disconnected.
func (h *WSHandler) handleJoin(client *realtime.Client, data map[string]interface{}) {
	code := utils.GetString(data, "room_code", "")
	role := utils.GetString(data, "role", realtime.RolePlayer)
	if name := utils.GetString(data, "username", ""); name != "" {
		client.Username = name
	}

	session, err := h.sessions.GetSessionByCode(code)
	if err != nil {
		client.Send(realtime.EventSessionNotFound, map[string]interface{}{
			"room_code": code,
		})
		client.Close()
		return
	}
	if !session.IsActive() {
		client.Send(realtime.EventSessionNotFound, map[string]interface{}{
			"room_code": code,
			"status":    session.Status,
		})
		client.Close()
		return
	}

	client.Role = role
	client.SessionID = session.SessionID
	h.hub.Register(code, client)

	if role == realtime.RolePlayer {
		isHost := session.HostID == client.PlayerID
		player, err := h.sessions.AddPlayer(session.SessionID, client.PlayerID, client.Username, isHost, session.JokerAllotment)
		if err != nil {
			zlog.Error().Err(err).Str("player_id", client.PlayerID).Msg("failed to add player")
			client.Send(realtime.EventError, map[string]interface{}{"message": "failed to join session"})
			return
		}
		reconnecting := !player.Connected
		if reconnecting {
			if err := h.sessions.RecordReconnect(session.SessionID, client.PlayerID); err != nil {
				zlog.Warn().Err(err).Str("player_id", client.PlayerID).Msg("failed to record reconnect")
			}
			h.hub.BroadcastExcept(code, client, realtime.EventPlayerReconnect, map[string]interface{}{
				"player_id": client.PlayerID,
				"username":  client.Username,
			})
		} else {
			h.hub.BroadcastExcept(code, client, realtime.EventPlayerJoined, map[string]interface{}{
				"player_id": client.PlayerID,
				"username":  client.Username,
			})
		}
		h.sessions.LogEvent(session.SessionID, "player_joined", client.PlayerID, nil, nil)
	}

	// Joining and resubscribing both end with the authoritative state
	h.sendSessionState(client)
}

// handleStartQuiz spins up the state machine. One credit is consumed
// before the session leaves waiting; a failed credit check leaves
// everything untouched.
func (h *WSHandler) handleStartQuiz(client *realtime.Client) {
	session, ok := h.requireHost(client)
	if !ok {
		return
	}

	quiz, err := h.sessions.LoadQuiz(session)
	if err != nil {
		zlog.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to load quiz")
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to load quiz content"})
		return
	}

	bus := realtime.NewSessionBroadcaster(h.hub, client.Code)
	machine := game.NewMachine(session.SessionID, session.HostID, quiz,
		h.sessions, bus, h.credits, clockwork.NewRealClock(), zlog.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	rg := &runningGame{
		machine:   machine,
		cancel:    cancel,
		sessionID: session.SessionID,
		hostID:    session.HostID,
	}

	// The room code is claimed before the credit is consumed: a second
	// start_quiz racing this one loses the reservation and never
	// reaches Start, so at most one machine (and one credit) per
	// session.
	if !h.registry.reserve(client.Code, rg) {
		cancel()
		client.Send(realtime.EventError, map[string]interface{}{"message": "quiz already started"})
		return
	}

	if err := machine.Start(ctx); err != nil {
		h.registry.remove(client.Code)
		cancel()
		if errors.Is(err, services.ErrNoCredits) {
			client.Send(realtime.EventError, map[string]interface{}{"message": "no quiz credits remaining"})
			return
		}
		zlog.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to start quiz")
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to start quiz"})
		return
	}

	if err := h.sessions.StartSession(session.SessionID); err != nil {
		zlog.Error().Err(err).Str("session_id", session.SessionID).Msg("failed to mark session playing")
	}
	h.sessions.LogEvent(session.SessionID, "quiz_started", client.PlayerID, nil, nil)

	code := client.Code
	go func() {
		machine.Run(ctx)
		h.registry.remove(code)
		cancel()
	}()
}

func (h *WSHandler) handleSubmitAnswer(client *realtime.Client, data map[string]interface{}) {
	rg := h.registry.get(client.Code)
	if rg == nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": "quiz is not running"})
		return
	}

	questionIndex := utils.GetInt(data, "question_index", -1)
	answer := utils.GetString(data, "answer", "")

	award, err := rg.machine.SubmitAnswer(context.Background(), client.PlayerID, questionIndex, answer)
	if errors.Is(err, game.ErrDuplicateAnswer) {
		// First submission already counted; later ones are dropped
		return
	}
	if errors.Is(err, game.ErrPlayerBlocked) {
		client.Send(realtime.EventError, map[string]interface{}{"message": "you are blocked for this question"})
		return
	}
	if err != nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": err.Error()})
		return
	}

	h.sessions.LogEvent(rg.sessionID, "answer_submitted", client.PlayerID, &questionIndex, map[string]interface{}{
		"correct": award.Correct,
		"points":  award.Points,
	})
}

// handleUseJoker validates and records one joker play during the
// strategy window. The action only becomes an effect at resolution.
func (h *WSHandler) handleUseJoker(client *realtime.Client, data map[string]interface{}) {
	rg := h.registry.get(client.Code)
	if rg == nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": "quiz is not running"})
		return
	}

	jokerType := game.JokerType(utils.GetString(data, "action_type", ""))
	targetID := utils.GetString(data, "target_player_id", "")

	if !game.ValidJokerType(jokerType) {
		client.Send(realtime.EventError, map[string]interface{}{"message": "unknown joker type"})
		return
	}
	if jokerType.RequiresTarget() && targetID == "" {
		client.Send(realtime.EventError, map[string]interface{}{"message": "this joker requires a target"})
		return
	}
	if targetID == client.PlayerID {
		client.Send(realtime.EventError, map[string]interface{}{"message": "cannot target yourself"})
		return
	}
	if !rg.machine.InStrategyWindow() {
		client.Send(realtime.EventError, map[string]interface{}{"message": "jokers can only be played during the theme announcement"})
		return
	}

	if err := h.sessions.UseJoker(rg.sessionID, client.PlayerID, jokerType); err != nil {
		if errors.Is(err, services.ErrNoJokersLeft) {
			client.Send(realtime.EventError, map[string]interface{}{"message": "no uses left for this joker"})
			return
		}
		zlog.Error().Err(err).Str("player_id", client.PlayerID).Msg("joker decrement failed")
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to use joker"})
		return
	}

	questionIndex := rg.machine.QuestionIndex()
	action := game.JokerAction{
		PlayerID:      client.PlayerID,
		TargetID:      targetID,
		Type:          jokerType,
		Timestamp:     time.Now().UTC(),
		QuestionIndex: questionIndex,
	}
	if err := h.sessions.InsertJokerAction(rg.sessionID, action); err != nil {
		zlog.Error().Err(err).Str("player_id", client.PlayerID).Msg("failed to record joker action")
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to record joker"})
		return
	}

	h.sessions.LogEvent(rg.sessionID, "joker_used", client.PlayerID, &questionIndex, map[string]interface{}{
		"action_type": string(jokerType),
		"target":      targetID,
	})
	// Private ack: actions stay hidden until the window resolves
	client.Send("joker_accepted", map[string]interface{}{
		"action_type":    string(jokerType),
		"question_index": questionIndex,
	})
}

// handleHostControl dispatches skip/pause/resume/jump, all host-only.
func (h *WSHandler) handleHostControl(client *realtime.Client, control string, data map[string]interface{}) {
	if _, ok := h.requireHost(client); !ok {
		return
	}
	rg := h.registry.get(client.Code)
	if rg == nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": "quiz is not running"})
		return
	}

	var err error
	switch control {
	case "skip_phase":
		err = rg.machine.SkipPhase(context.Background())
	case "pause_quiz":
		err = rg.machine.Pause()
	case "resume_quiz":
		err = rg.machine.Resume(context.Background())
	case "jump_phase":
		phase := game.Phase(utils.GetString(data, "phase", ""))
		err = rg.machine.JumpToPhase(context.Background(), phase)
	}
	if err != nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": err.Error()})
		return
	}
	h.sessions.LogEvent(rg.sessionID, control, client.PlayerID, nil, data)
}

// requireHost verifies the client is the session host.
func (h *WSHandler) requireHost(client *realtime.Client) (*models.QuizSession, bool) {
	if client.Code == "" {
		client.Send(realtime.EventError, map[string]interface{}{"message": "join a session first"})
		return nil, false
	}
	session, err := h.sessions.GetSessionByCode(client.Code)
	if err != nil {
		client.Send(realtime.EventSessionNotFound, map[string]interface{}{"room_code": client.Code})
		return nil, false
	}
	if session.HostID != client.PlayerID {
		client.Send(realtime.EventError, map[string]interface{}{"message": "only the host can do that"})
		return nil, false
	}
	return session, true
}

// sendSessionState pushes the authoritative snapshot to one client.
// This is the websocket resync path; the HTTP one lives in session.go.
func (h *WSHandler) sendSessionState(client *realtime.Client) {
	if client.SessionID == "" {
		client.Send(realtime.EventError, map[string]interface{}{"message": "join a session first"})
		return
	}

	session, err := h.sessions.GetSessionByID(client.SessionID)
	if err != nil {
		client.Send(realtime.EventSessionNotFound, map[string]interface{}{"room_code": client.Code})
		return
	}
	snap, err := h.sessions.Snapshot(context.Background(), client.SessionID)
	if err != nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to load session state"})
		return
	}
	players, err := h.sessions.GetPlayers(client.SessionID)
	if err != nil {
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to load players"})
		return
	}

	payload := realtime.SnapshotPayload{
		SessionID:      session.SessionID,
		RoomCode:       session.RoomCode,
		Status:         session.Status,
		Phase:          string(snap.Phase),
		QuestionIndex:  snap.QuestionIndex,
		StageNumber:    snap.StageNumber,
		PhaseExpiresAt: snap.PhaseExpiresAt,
		ThemeTitle:     snap.ThemeTitle,
		Question:       sanitizeQuestion(snap.Question, snap.Phase),
		Players:        playerSummaries(players),
	}
	if session.Status == models.SessionWaiting {
		payload.Phase = "waiting"
	}
	if err := payload.Validate(); err != nil {
		zlog.Error().Err(err).Str("session_id", client.SessionID).Msg("refusing to send malformed session state")
		client.Send(realtime.EventError, map[string]interface{}{"message": "failed to load session state"})
		return
	}
	client.Send(realtime.EventSessionState, payload)
}
