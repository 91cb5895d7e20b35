package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"quizclash/models"

	"github.com/google/uuid"
)

// Matchmaker is the matchmaking RPC surface the coordinator calls. The
// in-process MatchmakingService implements it; tests can substitute fakes.
type Matchmaker interface {
	FindMatch(ctx context.Context, userID, username, category string) (*MatchResult, error)
	CheckMatch(ctx context.Context, userID string) (*MatchResult, error)
	CancelMatch(ctx context.Context, userID string) error
}

type MatchResult struct {
	Matched  bool         `json:"matched"`
	Room     *models.Room `json:"room,omitempty"`
	Opponent string       `json:"opponent,omitempty"`
}

// MatchmakingService pairs searching players into quick-match rooms.
type MatchmakingService struct {
	backend   *Backend
	questions *QuestionService
}

func NewMatchmakingService(backend *Backend, questions *QuestionService) *MatchmakingService {
	return &MatchmakingService{backend: backend, questions: questions}
}

// FindMatch enqueues the player, pairing them immediately when another
// player is already searching the same category. Quick-match rooms are
// created already started, with a server-assigned question order so both
// clients see identical questions.
func (s *MatchmakingService) FindMatch(ctx context.Context, userID, username, category string) (*MatchResult, error) {
	if category == "" {
		category = DefaultCategory
	}

	// Drop any stale entry from a previous search.
	if err := s.backend.Queue.RemoveByUser(ctx, userID); err != nil {
		return nil, err
	}

	opponent, err := s.backend.Queue.OldestSearching(ctx, category, userID)
	if err != nil {
		return nil, err
	}

	if opponent == nil {
		entry := &models.QueueEntry{
			ID:       uuid.NewString(),
			UserID:   userID,
			Username: username,
			Category: category,
			Status:   models.QueueSearching,
		}
		if err := s.backend.Queue.Enqueue(ctx, entry); err != nil {
			return nil, err
		}
		return &MatchResult{Matched: false}, nil
	}

	room, err := s.createQuickMatchRoom(ctx, category, opponent, userID, username)
	if err != nil {
		return nil, err
	}

	if err := s.backend.Queue.MarkMatched(ctx, opponent.ID, room.ID); err != nil {
		log.Printf("Failed to mark queue entry %s matched: %v", opponent.ID, err)
	}

	return &MatchResult{Matched: true, Room: room, Opponent: opponent.Username}, nil
}

func (s *MatchmakingService) createQuickMatchRoom(ctx context.Context, category string, opponent *models.QueueEntry, userID, username string) (*models.Room, error) {
	ids, err := s.questions.BuildShuffle(ctx, category, s.questions.QuickMatchCount())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	room := &models.Room{
		ID:                   uuid.NewString(),
		Status:               models.RoomStarted,
		MaxPlayers:           2,
		RoomCode:             GenerateRoomCode(),
		IsPublic:             false,
		CreatedBy:            opponent.UserID,
		Category:             category,
		CurrentQuestionIndex: 0,
		QuestionStartTime:    &now,
		ShuffledQuestions:    ids,
	}

	if err := s.backend.Rooms.CreateRoom(ctx, room); err != nil {
		return nil, err
	}

	for _, member := range []struct{ userID, username string }{
		{opponent.UserID, opponent.Username},
		{userID, username},
	} {
		player := &models.RoomPlayer{
			ID:       uuid.NewString(),
			RoomID:   room.ID,
			UserID:   member.userID,
			Username: member.username,
			JoinedAt: time.Now(),
		}
		if err := s.backend.Players.AddPlayer(ctx, player); err != nil {
			return nil, err
		}
	}

	return room, nil
}

// CheckMatch reports whether the player's queue entry has been matched.
func (s *MatchmakingService) CheckMatch(ctx context.Context, userID string) (*MatchResult, error) {
	entry, err := s.backend.Queue.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Status != models.QueueMatched || entry.RoomID == "" {
		return &MatchResult{Matched: false}, nil
	}

	room, err := s.backend.Rooms.GetRoom(ctx, entry.RoomID)
	if err != nil {
		return &MatchResult{Matched: false}, nil
	}

	return &MatchResult{Matched: true, Room: room}, nil
}

// CancelMatch removes the player from the queue.
func (s *MatchmakingService) CancelMatch(ctx context.Context, userID string) error {
	return s.backend.Queue.RemoveByUser(ctx, userID)
}

// GenerateRoomCode returns a 4-digit public join handle. Codes are not
// globally unique; lookup filters on waiting rooms and codes are shared over
// a short window.
func GenerateRoomCode() string {
	return fmt.Sprintf("%04d", rand.Intn(10000))
}
