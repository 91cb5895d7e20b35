package services

import (
	"context"
	"testing"

	"quizclash/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatchmakingFixture(t *testing.T) (*fakeBackend, *MatchmakingService) {
	t.Helper()
	fb := newFakeBackend(nil)
	fb.seedQuestions("General", 20, 30)
	return fb, NewMatchmakingService(fb.backend(), NewQuestionService(fb))
}

func TestFindMatchQueuesWhenAlone(t *testing.T) {
	fb, mm := newMatchmakingFixture(t)
	ctx := context.Background()

	result, err := mm.FindMatch(ctx, "u1", "alice", "")
	require.NoError(t, err)
	assert.False(t, result.Matched)

	entry, err := fb.GetByUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.QueueSearching, entry.Status)
	assert.Equal(t, "General", entry.Category, "empty category defaults to General")
}

func TestFindMatchPairsWaitingPlayers(t *testing.T) {
	fb, mm := newMatchmakingFixture(t)
	ctx := context.Background()

	first, err := mm.FindMatch(ctx, "u1", "alice", "General")
	require.NoError(t, err)
	require.False(t, first.Matched)

	second, err := mm.FindMatch(ctx, "u2", "bob", "General")
	require.NoError(t, err)
	require.True(t, second.Matched)
	require.NotNil(t, second.Room)
	assert.Equal(t, "alice", second.Opponent)

	room := second.Room
	assert.Equal(t, models.RoomStarted, room.Status, "quick matches start server-side")
	assert.Equal(t, 2, room.MaxPlayers)
	assert.Equal(t, 0, room.CurrentQuestionIndex)
	assert.NotNil(t, room.QuestionStartTime)
	assert.NotEmpty(t, room.ShuffledQuestions, "quick matches get a server-assigned question order")
	assert.Equal(t, "u1", room.CreatedBy)

	count, err := fb.CountPlayers(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The queued opponent learns about the match through check_match.
	checked, err := mm.CheckMatch(ctx, "u1")
	require.NoError(t, err)
	require.True(t, checked.Matched)
	assert.Equal(t, room.ID, checked.Room.ID)
}

func TestFindMatchDifferentCategoriesDoNotPair(t *testing.T) {
	fb, mm := newMatchmakingFixture(t)
	fb.seedQuestions("Math", 20, 30)
	ctx := context.Background()

	_, err := mm.FindMatch(ctx, "u1", "alice", "General")
	require.NoError(t, err)

	result, err := mm.FindMatch(ctx, "u2", "bob", "Math")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestCheckMatchWhileSearching(t *testing.T) {
	_, mm := newMatchmakingFixture(t)
	ctx := context.Background()

	_, err := mm.FindMatch(ctx, "u1", "alice", "General")
	require.NoError(t, err)

	result, err := mm.CheckMatch(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestCancelMatchRemovesQueueEntry(t *testing.T) {
	fb, mm := newMatchmakingFixture(t)
	ctx := context.Background()

	_, err := mm.FindMatch(ctx, "u1", "alice", "General")
	require.NoError(t, err)

	require.NoError(t, mm.CancelMatch(ctx, "u1"))

	entry, err := fb.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	// A later search must not pair against the cancelled entry.
	result, err := mm.FindMatch(ctx, "u2", "bob", "General")
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestFindMatchNoQuestionsFails(t *testing.T) {
	fb := newFakeBackend(nil)
	mm := NewMatchmakingService(fb.backend(), NewQuestionService(fb))
	ctx := context.Background()

	_, err := mm.FindMatch(ctx, "u1", "alice", "Philosophy")
	require.NoError(t, err)

	_, err = mm.FindMatch(ctx, "u2", "bob", "Philosophy")
	assert.ErrorIs(t, err, ErrNoQuestions)
}
