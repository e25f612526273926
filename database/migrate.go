// database/migrate.go - Database Migration Runner
package database

import (
	"quizshow/models"

	"github.com/rs/zerolog/log"
)

// RunMigrations runs all database migrations
func RunMigrations() {
	db := GetDB()
	log.Info().Msg("running database migrations")

	if err := db.AutoMigrate(
		&models.QuizSession{},
		&models.SessionPlayer{},
		&models.JokerActionRecord{},
		&models.SessionEvent{},
		&models.HostCredit{},
		&models.CreditPurchase{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	createIndexes()

	log.Info().Msg("migrations completed")
}

// createIndexes creates the indexes hot paths rely on
func createIndexes() {
	db := GetDB()

	// Session lookups by room code happen on every join; status filters
	// back the active-session listing
	db.Exec("CREATE INDEX IF NOT EXISTS idx_quiz_sessions_host ON quiz_sessions(host_id, status)")

	// Joker resolution loads one question's actions in timestamp order
	db.Exec("CREATE INDEX IF NOT EXISTS idx_joker_actions_window ON joker_actions(session_id, question_index, timestamp)")

	// Leaderboard ordering
	db.Exec("CREATE INDEX IF NOT EXISTS idx_session_players_score ON session_players(session_id, total_score DESC)")

	// Audit timeline per session
	db.Exec("CREATE INDEX IF NOT EXISTS idx_session_events_timeline ON session_events(session_id, timestamp)")
}
