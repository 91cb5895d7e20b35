package services

import (
	"context"
	"errors"
	"time"

	"quizclash/models"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrNoQuestions    = errors.New("no questions available for this category")
)

// The coordinator talks to the authoritative row store through these
// interfaces. The gorm-backed Store implements all of them; tests substitute
// an in-memory fake.

type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	FindWaitingByCode(ctx context.Context, code string) (*models.Room, error)
	ListPublicWaiting(ctx context.Context) ([]models.Room, error)
	// CompleteRoom flips the room to completed. Returns false when the room
	// was already completed, so exactly one client performs the end-of-game
	// side effects.
	CompleteRoom(ctx context.Context, id string) (bool, error)
	// StartRoom flips the room to started at question index 0.
	StartRoom(ctx context.Context, id string) error
	// AdvanceRoom moves current_question_index from fromIndex to fromIndex+1
	// only if the room is still at fromIndex. Returns false when another
	// client advanced first.
	AdvanceRoom(ctx context.Context, id string, fromIndex int, at time.Time) (bool, error)
	SetRoomHost(ctx context.Context, id, userID string) error
	DeleteRoom(ctx context.Context, id string) error
}

type PlayerStore interface {
	AddPlayer(ctx context.Context, player *models.RoomPlayer) error
	// ListPlayers returns the room's members ordered by score descending.
	ListPlayers(ctx context.Context, roomID string) ([]models.RoomPlayer, error)
	GetPlayer(ctx context.Context, roomID, userID string) (*models.RoomPlayer, error)
	// RemovePlayer deletes the membership row and reports how many rows the
	// delete actually removed.
	RemovePlayer(ctx context.Context, roomID, userID string) (int64, error)
	CountPlayers(ctx context.Context, roomID string) (int, error)
	// EarliestJoined returns the member with the oldest joined_at, for host
	// migration.
	EarliestJoined(ctx context.Context, roomID string) (*models.RoomPlayer, error)
	// ApplyScore adds points and xp to the player's accumulators and sets
	// the streak to the given value.
	ApplyScore(ctx context.Context, playerID string, points, streak, xp int) error
}

type AnswerStore interface {
	CreateAnswer(ctx context.Context, answer *models.RoomAnswer) error
	CountAnswers(ctx context.Context, roomID, questionID string) (int, error)
	HasAnswered(ctx context.Context, roomID, playerID, questionID string) (bool, error)
}

type QuestionStore interface {
	CreateQuestion(ctx context.Context, question *models.Question) error
	// ListByCategory returns the bank for one category; empty category means
	// all categories.
	ListByCategory(ctx context.Context, category string) ([]models.Question, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Question, error)
	Categories(ctx context.Context) ([]string, error)
}

type QueueStore interface {
	Enqueue(ctx context.Context, entry *models.QueueEntry) error
	GetByUser(ctx context.Context, userID string) (*models.QueueEntry, error)
	// OldestSearching returns the longest-waiting searching entry for the
	// category, excluding the given user, or nil when the queue is empty.
	OldestSearching(ctx context.Context, category, excludeUserID string) (*models.QueueEntry, error)
	MarkMatched(ctx context.Context, entryID, roomID string) error
	RemoveByUser(ctx context.Context, userID string) error
}

type ProfileStore interface {
	AddXP(ctx context.Context, userID, category string, xp int) error
	GetXP(ctx context.Context, userID string) ([]models.ProfileXP, error)
}

// Backend bundles the row stores the coordinator depends on.
type Backend struct {
	Rooms     RoomStore
	Players   PlayerStore
	Answers   AnswerStore
	Questions QuestionStore
	Queue     QueueStore
	Profiles  ProfileStore
}
