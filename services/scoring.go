package services

import (
	"context"
	"errors"
	"log"

	"quizclash/models"

	"github.com/google/uuid"
)

// ScoringService computes points for submitted answers and applies them to
// the shared player records.
type ScoringService struct {
	players PlayerStore
	answers AnswerStore
}

func NewScoringService(players PlayerStore, answers AnswerStore) *ScoringService {
	return &ScoringService{players: players, answers: answers}
}

// AnswerPoints is the score for a correct answer submitted with timeLeft
// seconds remaining out of timeLimit. Faster answers earn more; a correct
// answer is never worth less than 10 points.
func AnswerPoints(timeLeft, timeLimit int) int {
	if timeLimit <= 0 {
		return 10
	}
	points := timeLeft * 100 / timeLimit
	if points < 10 {
		points = 10
	}
	return points
}

type SubmittedAnswer struct {
	Answer    *models.RoomAnswer
	IsCorrect bool
	Points    int
	Streak    int
}

// Submit records the answer row and updates the player's running totals.
// Each (room, question) pair takes at most one answer per player; scoring
// happens once at submission and is never recomputed.
func (s *ScoringService) Submit(ctx context.Context, room *models.Room, player *models.RoomPlayer, question *models.Question, answer string, timeLeft int) (*SubmittedAnswer, error) {
	answered, err := s.answers.HasAnswered(ctx, room.ID, player.ID, question.ID)
	if err != nil {
		return nil, err
	}
	if answered {
		return nil, errors.New("answer already submitted")
	}

	isCorrect := answer == question.CorrectAnswer

	points := 0
	if isCorrect {
		points = AnswerPoints(timeLeft, question.TimeLimit)
	}

	row := &models.RoomAnswer{
		ID:         uuid.NewString(),
		RoomID:     room.ID,
		PlayerID:   player.ID,
		QuestionID: question.ID,
		Answer:     answer,
		IsCorrect:  isCorrect,
		TimeSpent:  question.TimeLimit - timeLeft,
		Points:     points,
	}

	if err := s.answers.CreateAnswer(ctx, row); err != nil {
		return nil, err
	}

	streak := 0
	if isCorrect {
		streak = player.Streak + 1
	}

	if err := s.players.ApplyScore(ctx, player.ID, points, streak, points/10); err != nil {
		log.Printf("Failed to apply score for player %s: %v", player.ID, err)
		return nil, err
	}

	return &SubmittedAnswer{
		Answer:    row,
		IsCorrect: isCorrect,
		Points:    points,
		Streak:    streak,
	}, nil
}
