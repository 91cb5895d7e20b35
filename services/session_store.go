package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"quizclash/models"

	"github.com/redis/go-redis/v9"
)

// SessionState is the durable snapshot of one player's coordinator state.
// It is written through on every mutation so a reconnecting client can
// resume mid-game.
type SessionState struct {
	UserID         string              `json:"user_id"`
	GameState      GameState           `json:"game_state"`
	Room           *models.Room        `json:"room,omitempty"`
	Players        []models.RoomPlayer `json:"players,omitempty"`
	Questions      []models.Question   `json:"questions,omitempty"`
	TimeLeft       int                 `json:"time_left"`
	SelectedAnswer string              `json:"selected_answer"`
	FinalResults   []models.RoomPlayer `json:"final_results,omitempty"`
	PublicRooms    []models.Room       `json:"public_rooms,omitempty"`
	SavedAt        time.Time           `json:"saved_at"`
}

// SessionStore persists one player's session snapshot. Load reports ok=false
// when no snapshot exists or the stored value is corrupt; callers fall back
// to a fresh idle session.
type SessionStore interface {
	Save(ctx context.Context, state *SessionState) error
	Load(ctx context.Context) (*SessionState, bool)
	Clear(ctx context.Context) error
}

const sessionTTL = 2 * time.Hour

// RedisSessionStore keeps the snapshot as a JSON blob under one key per
// session slot.
type RedisSessionStore struct {
	client *redis.Client
	slot   string
}

func NewRedisSessionStore(client *redis.Client, slot string) *RedisSessionStore {
	return &RedisSessionStore{client: client, slot: slot}
}

func (s *RedisSessionStore) key() string {
	return "session:" + s.slot
}

func (s *RedisSessionStore) Save(ctx context.Context, state *SessionState) error {
	state.SavedAt = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.key(), data, sessionTTL).Err()
}

func (s *RedisSessionStore) Load(ctx context.Context) (*SessionState, bool) {
	data, err := s.client.Get(ctx, s.key()).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Redis error loading session %s: %v", s.slot, err)
		}
		return nil, false
	}

	var state SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		log.Printf("Corrupt session snapshot for %s, discarding: %v", s.slot, err)
		return nil, false
	}

	return &state, true
}

func (s *RedisSessionStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key()).Err()
}

// MemorySessionStore is an in-process SessionStore for tests.
type MemorySessionStore struct {
	mu    sync.Mutex
	state *SessionState
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Save(_ context.Context, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *state
	copied.SavedAt = time.Now()
	s.state = &copied
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context) (*SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return nil, false
	}
	copied := *s.state
	return &copied, true
}

func (s *MemorySessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}
