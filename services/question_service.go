package services

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"quizclash/models"

	"github.com/google/uuid"
)

const (
	DefaultCategory      = "General"
	defaultQuestionCount = 10
	quickMatchMinCount   = 5
	quickMatchMaxCount   = 15
)

// QuestionService resolves the question set for a room and manages the
// question bank.
type QuestionService struct {
	store QuestionStore
	rng   *rand.Rand
}

func NewQuestionService(store QuestionStore) *QuestionService {
	return &QuestionService{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type CreateQuestionRequest struct {
	Text          string   `json:"text" binding:"required"`
	Options       []string `json:"options" binding:"required,min=2,max=6"`
	CorrectAnswer string   `json:"correct_answer" binding:"required"`
	Difficulty    string   `json:"difficulty"`
	TimeLimit     int      `json:"time_limit" binding:"required,min=5,max=300"`
	Category      string   `json:"category" binding:"required"`
}

func (s *QuestionService) CreateQuestion(ctx context.Context, req *CreateQuestionRequest) (*models.Question, error) {
	correct := false
	for _, option := range req.Options {
		if option == req.CorrectAnswer {
			correct = true
			break
		}
	}
	if !correct {
		return nil, errors.New("correct answer must be one of the options")
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = "medium"
	}

	question := &models.Question{
		ID:            uuid.NewString(),
		Text:          req.Text,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		Difficulty:    difficulty,
		TimeLimit:     req.TimeLimit,
		Category:      req.Category,
	}

	if err := s.store.CreateQuestion(ctx, question); err != nil {
		return nil, err
	}
	return question, nil
}

func (s *QuestionService) ListByCategory(ctx context.Context, category string) ([]models.Question, error) {
	return s.store.ListByCategory(ctx, category)
}

func (s *QuestionService) Categories(ctx context.Context) ([]string, error) {
	return s.store.Categories(ctx)
}

// BuildShuffle picks a fixed question order for a new room: load the
// category's bank, shuffle, truncate to count. The returned id sequence is
// persisted on the room so every joining client loads the same order.
func (s *QuestionService) BuildShuffle(ctx context.Context, category string, count int) ([]string, error) {
	questions, err := s.store.ListByCategory(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	if count <= 0 {
		count = defaultQuestionCount
	}
	if count > len(questions) {
		count = len(questions)
	}

	s.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	ids := make([]string, count)
	for i := 0; i < count; i++ {
		ids[i] = questions[i].ID
	}
	return ids, nil
}

// QuickMatchCount picks the question count for a 2-player room.
func (s *QuestionService) QuickMatchCount() int {
	return quickMatchMinCount + s.rng.Intn(quickMatchMaxCount-quickMatchMinCount+1)
}

// LoadForRoom resolves the room's ordered question set. Rooms with a stored
// shuffle are fetched by id and reordered to match it; rooms without one
// (legacy quick matches) synthesize an equivalent order from the category.
func (s *QuestionService) LoadForRoom(ctx context.Context, room *models.Room) ([]models.Question, error) {
	if len(room.ShuffledQuestions) > 0 {
		fetched, err := s.store.GetByIDs(ctx, room.ShuffledQuestions)
		if err != nil {
			return nil, err
		}

		byID := make(map[string]models.Question, len(fetched))
		for _, q := range fetched {
			byID[q.ID] = q
		}

		ordered := make([]models.Question, 0, len(room.ShuffledQuestions))
		for _, id := range room.ShuffledQuestions {
			if q, ok := byID[id]; ok {
				ordered = append(ordered, q)
			}
		}
		if len(ordered) == 0 {
			return nil, ErrNoQuestions
		}
		return ordered, nil
	}

	// No stored order: derive one from the category.
	count := defaultQuestionCount
	if room.IsQuickMatch() {
		count = s.QuickMatchCount()
	}

	ids, err := s.BuildShuffle(ctx, room.Category, count)
	if err != nil {
		return nil, err
	}

	fetched, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Question, len(fetched))
	for _, q := range fetched {
		byID[q.ID] = q
	}
	ordered := make([]models.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered, nil
}
