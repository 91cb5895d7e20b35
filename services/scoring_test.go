package services

import (
	"context"
	"testing"
	"time"

	"quizclash/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerPoints(t *testing.T) {
	tests := []struct {
		name      string
		timeLeft  int
		timeLimit int
		want      int
	}{
		{"full time remaining", 30, 30, 100},
		{"half time remaining", 15, 30, 50},
		{"last second hits the floor", 1, 30, 10},
		{"one third", 10, 30, 33},
		{"zero limit falls back to floor", 5, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnswerPoints(tt.timeLeft, tt.timeLimit))
		})
	}
}

func newScoringFixture(t *testing.T) (*fakeBackend, *ScoringService, *models.Room, *models.RoomPlayer, []models.Question) {
	t.Helper()
	fb := newFakeBackend(nil)
	questions := fb.seedQuestions("Science", 3, 30)

	room := &models.Room{ID: "room-1", Status: models.RoomStarted, MaxPlayers: 2, Category: "Science"}
	require.NoError(t, fb.CreateRoom(context.Background(), room))

	player := &models.RoomPlayer{ID: "p1", RoomID: room.ID, UserID: "u1", Username: "alice", JoinedAt: time.Now()}
	require.NoError(t, fb.AddPlayer(context.Background(), player))

	return fb, NewScoringService(fb, fb), room, player, questions
}

func TestSubmitCorrectAnswer(t *testing.T) {
	fb, scoring, room, player, questions := newScoringFixture(t)
	ctx := context.Background()

	result, err := scoring.Submit(ctx, room, player, &questions[0], "right", 30)
	require.NoError(t, err)

	assert.True(t, result.IsCorrect)
	assert.Equal(t, 100, result.Points)
	assert.Equal(t, 1, result.Streak)

	stored, err := fb.GetPlayer(ctx, room.ID, player.UserID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Score)
	assert.Equal(t, 1, stored.Streak)
	assert.Equal(t, 10, stored.XPEarned)
}

func TestSubmitIncorrectAnswerResetsStreak(t *testing.T) {
	fb, scoring, room, player, questions := newScoringFixture(t)
	ctx := context.Background()

	_, err := scoring.Submit(ctx, room, player, &questions[0], "right", 20)
	require.NoError(t, err)

	current, err := fb.GetPlayer(ctx, room.ID, player.UserID)
	require.NoError(t, err)
	require.Equal(t, 1, current.Streak)

	result, err := scoring.Submit(ctx, room, current, &questions[1], "wrong", 20)
	require.NoError(t, err)

	assert.False(t, result.IsCorrect)
	assert.Equal(t, 0, result.Points)
	assert.Equal(t, 0, result.Streak)

	stored, err := fb.GetPlayer(ctx, room.ID, player.UserID)
	require.NoError(t, err)
	assert.Equal(t, current.Score, stored.Score, "incorrect answer must not change the score")
	assert.Equal(t, 0, stored.Streak)
}

func TestSubmitScoreNeverDecreases(t *testing.T) {
	fb, scoring, room, player, questions := newScoringFixture(t)
	ctx := context.Background()

	answers := []string{"right", "wrong", "right"}
	prevScore := 0
	for i, answer := range answers {
		current, err := fb.GetPlayer(ctx, room.ID, player.UserID)
		require.NoError(t, err)

		_, err = scoring.Submit(ctx, room, current, &questions[i], answer, 10)
		require.NoError(t, err)

		stored, err := fb.GetPlayer(ctx, room.ID, player.UserID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stored.Score, prevScore)
		prevScore = stored.Score
	}
}

func TestSubmitDuplicateRejected(t *testing.T) {
	_, scoring, room, player, questions := newScoringFixture(t)
	ctx := context.Background()

	_, err := scoring.Submit(ctx, room, player, &questions[0], "right", 25)
	require.NoError(t, err)

	_, err = scoring.Submit(ctx, room, player, &questions[0], "right", 20)
	assert.EqualError(t, err, "answer already submitted")
}
