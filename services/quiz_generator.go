// services/quiz_generator.go - Quiz content generation
package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"quizshow/game"
)

// QuizRequest describes the quiz a host wants generated.
type QuizRequest struct {
	Title             string   `json:"title"`
	Themes            []string `json:"themes"`
	QuestionCount     int      `json:"question_count"`
	QuestionsPerStage int      `json:"questions_per_stage"`
	PointsPerQuestion int      `json:"points_per_question"`
	JokerAllotment    int      `json:"joker_allotment"`
	CommercialBreaks  []int    `json:"commercial_breaks"`
}

func (r *QuizRequest) applyDefaults() {
	if r.QuestionCount <= 0 {
		r.QuestionCount = 10
	}
	if r.QuestionsPerStage <= 0 {
		r.QuestionsPerStage = 5
	}
	if r.PointsPerQuestion <= 0 {
		r.PointsPerQuestion = 100
	}
	if r.JokerAllotment <= 0 {
		r.JokerAllotment = 1
	}
	if len(r.Themes) == 0 {
		r.Themes = []string{"General Knowledge"}
	}
	if r.Title == "" {
		r.Title = "Quiz Show"
	}
}

// QuizGenerator produces question sequences, preferring an external
// content provider and falling back to deterministic local content so
// a session can always be created.
type QuizGenerator struct {
	client *http.Client
}

func NewQuizGenerator() *QuizGenerator {
	return &QuizGenerator{
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// GenerateQuiz builds the full question sequence for one session.
func (g *QuizGenerator) GenerateQuiz(req QuizRequest) (game.Quiz, error) {
	req.applyDefaults()

	if providerURL := os.Getenv("QUIZ_PROVIDER_URL"); providerURL != "" {
		quiz, err := g.fetchFromProvider(providerURL, req)
		if err == nil {
			return quiz, nil
		}
		log.Warn().Err(err).Msg("quiz provider failed, using local generation")
	}

	return g.generateLocal(req), nil
}

// providerResponse is the external provider's question format.
type providerResponse struct {
	Questions []struct {
		Theme         string   `json:"theme"`
		Text          string   `json:"text"`
		Options       []string `json:"options"`
		CorrectAnswer string   `json:"correct_answer"`
	} `json:"questions"`
}

func (g *QuizGenerator) fetchFromProvider(url string, req QuizRequest) (game.Quiz, error) {
	body, err := json.Marshal(map[string]interface{}{
		"themes": req.Themes,
		"count":  req.QuestionCount,
	})
	if err != nil {
		return game.Quiz{}, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return game.Quiz{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("QUIZ_PROVIDER_KEY"); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return game.Quiz{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return game.Quiz{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return game.Quiz{}, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if len(parsed.Questions) == 0 {
		return game.Quiz{}, fmt.Errorf("provider returned no questions")
	}

	quiz := newQuizShell(req)
	for i, pq := range parsed.Questions {
		if i >= req.QuestionCount {
			break
		}
		quiz.Questions = append(quiz.Questions, game.Question{
			Index:         i,
			Theme:         pq.Theme,
			Text:          pq.Text,
			Options:       pq.Options,
			CorrectAnswer: pq.CorrectAnswer,
			Points:        req.PointsPerQuestion,
		})
	}
	return quiz, nil
}

// generateLocal builds placeholder content seeded from the request so
// the same request always yields the same quiz. Used in development and
// whenever the provider is unreachable.
func (g *QuizGenerator) generateLocal(req QuizRequest) game.Quiz {
	seed := sha256.Sum256([]byte(fmt.Sprintf("%s|%v|%d", req.Title, req.Themes, req.QuestionCount)))
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(seed[:8]))))

	quiz := newQuizShell(req)
	for i := 0; i < req.QuestionCount; i++ {
		theme := req.Themes[i%len(req.Themes)]
		correct := rng.Intn(4)
		options := make([]string, 4)
		for j := range options {
			options[j] = fmt.Sprintf("Option %c", 'A'+j)
		}
		quiz.Questions = append(quiz.Questions, game.Question{
			Index:         i,
			Theme:         theme,
			Text:          fmt.Sprintf("%s question %d", theme, i+1),
			Options:       options,
			CorrectAnswer: options[correct],
			Points:        req.PointsPerQuestion,
		})
	}
	return quiz
}

func newQuizShell(req QuizRequest) game.Quiz {
	return game.Quiz{
		Title:                req.Title,
		Questions:            make([]game.Question, 0, req.QuestionCount),
		QuestionsPerStage:    req.QuestionsPerStage,
		CommercialBreakAfter: req.CommercialBreaks,
		JokerAllotment:       req.JokerAllotment,
	}
}
