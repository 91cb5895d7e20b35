package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizclash/models"
)

// fakeBackend is an in-memory stand-in for the gorm store. Like the real
// store it publishes a change event after every mutation, so coordinator
// tests exercise the same reconciliation paths as production.
type fakeBackend struct {
	mu        sync.Mutex
	feed      Feed
	rooms     map[string]*models.Room
	players   map[string]*models.RoomPlayer
	answers   map[string]*models.RoomAnswer
	questions map[string]*models.Question
	queue     map[string]*models.QueueEntry
	xp        map[string]map[string]int // userID -> category -> xp

	advanceCalls  int
	completeCalls int
}

func newFakeBackend(feed Feed) *fakeBackend {
	return &fakeBackend{
		feed:      feed,
		rooms:     make(map[string]*models.Room),
		players:   make(map[string]*models.RoomPlayer),
		answers:   make(map[string]*models.RoomAnswer),
		questions: make(map[string]*models.Question),
		queue:     make(map[string]*models.QueueEntry),
		xp:        make(map[string]map[string]int),
	}
}

func (f *fakeBackend) backend() *Backend {
	return &Backend{Rooms: f, Players: f, Answers: f, Questions: f, Queue: f, Profiles: f}
}

func (f *fakeBackend) publish(event ChangeEvent) {
	if f.feed != nil {
		f.feed.Publish(context.Background(), event)
	}
}

// Rooms

func (f *fakeBackend) CreateRoom(_ context.Context, room *models.Room) error {
	f.mu.Lock()
	copied := *room
	f.rooms[room.ID] = &copied
	f.mu.Unlock()
	f.publish(NewChange(TableRooms, ChangeInsert, room, nil))
	return nil
}

func (f *fakeBackend) GetRoom(_ context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (f *fakeBackend) FindWaitingByCode(_ context.Context, code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, room := range f.rooms {
		if room.RoomCode == code && room.Status == models.RoomWaiting {
			copied := *room
			return &copied, nil
		}
	}
	return nil, ErrRoomNotFound
}

func (f *fakeBackend) ListPublicWaiting(_ context.Context) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []models.Room
	for _, room := range f.rooms {
		if room.IsPublic && room.Status == models.RoomWaiting {
			rooms = append(rooms, *room)
		}
	}
	return rooms, nil
}

func (f *fakeBackend) CompleteRoom(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	room, ok := f.rooms[id]
	if !ok {
		f.mu.Unlock()
		return false, ErrRoomNotFound
	}
	if room.Status == models.RoomCompleted {
		f.mu.Unlock()
		return false, nil
	}
	old := *room
	room.Status = models.RoomCompleted
	updated := *room
	f.completeCalls++
	f.mu.Unlock()

	f.publish(NewChange(TableRooms, ChangeUpdate, &updated, &old))
	return true, nil
}

func (f *fakeBackend) StartRoom(_ context.Context, id string) error {
	f.mu.Lock()
	room, ok := f.rooms[id]
	if !ok {
		f.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.Status != models.RoomWaiting {
		f.mu.Unlock()
		return nil
	}
	old := *room
	now := time.Now()
	room.Status = models.RoomStarted
	room.CurrentQuestionIndex = 0
	room.QuestionStartTime = &now
	updated := *room
	f.mu.Unlock()

	f.publish(NewChange(TableRooms, ChangeUpdate, &updated, &old))
	return nil
}

func (f *fakeBackend) AdvanceRoom(_ context.Context, id string, fromIndex int, at time.Time) (bool, error) {
	f.mu.Lock()
	room, ok := f.rooms[id]
	if !ok {
		f.mu.Unlock()
		return false, ErrRoomNotFound
	}
	if room.Status != models.RoomStarted || room.CurrentQuestionIndex != fromIndex {
		f.mu.Unlock()
		return false, nil
	}
	old := *room
	room.CurrentQuestionIndex = fromIndex + 1
	room.QuestionStartTime = &at
	updated := *room
	f.advanceCalls++
	f.mu.Unlock()

	f.publish(NewChange(TableRooms, ChangeUpdate, &updated, &old))
	return true, nil
}

func (f *fakeBackend) SetRoomHost(_ context.Context, id, userID string) error {
	f.mu.Lock()
	room, ok := f.rooms[id]
	if !ok {
		f.mu.Unlock()
		return ErrRoomNotFound
	}
	old := *room
	room.CreatedBy = userID
	updated := *room
	f.mu.Unlock()

	f.publish(NewChange(TableRooms, ChangeUpdate, &updated, &old))
	return nil
}

func (f *fakeBackend) DeleteRoom(_ context.Context, id string) error {
	f.mu.Lock()
	room, ok := f.rooms[id]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	old := *room
	delete(f.rooms, id)
	f.mu.Unlock()

	f.publish(NewChange(TableRooms, ChangeDelete, nil, &old))
	return nil
}

// Players

func (f *fakeBackend) AddPlayer(_ context.Context, player *models.RoomPlayer) error {
	f.mu.Lock()
	copied := *player
	f.players[player.ID] = &copied
	f.mu.Unlock()

	f.publish(NewChange(TablePlayers, ChangeInsert, player, nil))
	return nil
}

func (f *fakeBackend) ListPlayers(_ context.Context, roomID string) ([]models.RoomPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var players []models.RoomPlayer
	for _, p := range f.players {
		if p.RoomID == roomID {
			players = append(players, *p)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players, nil
}

func (f *fakeBackend) GetPlayer(_ context.Context, roomID, userID string) (*models.RoomPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.players {
		if p.RoomID == roomID && p.UserID == userID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPlayerNotFound
}

func (f *fakeBackend) RemovePlayer(_ context.Context, roomID, userID string) (int64, error) {
	f.mu.Lock()
	var removed *models.RoomPlayer
	for id, p := range f.players {
		if p.RoomID == roomID && p.UserID == userID {
			removed = p
			delete(f.players, id)
			break
		}
	}
	f.mu.Unlock()

	if removed == nil {
		return 0, nil
	}
	f.publish(NewChange(TablePlayers, ChangeDelete, nil, removed))
	return 1, nil
}

func (f *fakeBackend) CountPlayers(_ context.Context, roomID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.players {
		if p.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) EarliestJoined(_ context.Context, roomID string) (*models.RoomPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var earliest *models.RoomPlayer
	for _, p := range f.players {
		if p.RoomID != roomID {
			continue
		}
		if earliest == nil || p.JoinedAt.Before(earliest.JoinedAt) {
			earliest = p
		}
	}
	if earliest == nil {
		return nil, ErrPlayerNotFound
	}
	copied := *earliest
	return &copied, nil
}

func (f *fakeBackend) ApplyScore(_ context.Context, playerID string, points, streak, xp int) error {
	f.mu.Lock()
	player, ok := f.players[playerID]
	if !ok {
		f.mu.Unlock()
		return ErrPlayerNotFound
	}
	old := *player
	player.Score += points
	player.Streak = streak
	player.XPEarned += xp
	updated := *player
	f.mu.Unlock()

	f.publish(NewChange(TablePlayers, ChangeUpdate, &updated, &old))
	return nil
}

// Answers

func (f *fakeBackend) CreateAnswer(_ context.Context, answer *models.RoomAnswer) error {
	f.mu.Lock()
	copied := *answer
	f.answers[answer.ID] = &copied
	f.mu.Unlock()

	f.publish(NewChange(TableAnswers, ChangeInsert, answer, nil))
	return nil
}

func (f *fakeBackend) CountAnswers(_ context.Context, roomID, questionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, a := range f.answers {
		if a.RoomID == roomID && a.QuestionID == questionID {
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) HasAnswered(_ context.Context, roomID, playerID, questionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.answers {
		if a.RoomID == roomID && a.PlayerID == playerID && a.QuestionID == questionID {
			return true, nil
		}
	}
	return false, nil
}

// Questions

func (f *fakeBackend) CreateQuestion(_ context.Context, question *models.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *question
	f.questions[question.ID] = &copied
	return nil
}

func (f *fakeBackend) ListByCategory(_ context.Context, category string) ([]models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var questions []models.Question
	for _, q := range f.questions {
		if category == "" || q.Category == category {
			questions = append(questions, *q)
		}
	}
	return questions, nil
}

func (f *fakeBackend) GetByIDs(_ context.Context, ids []string) ([]models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var questions []models.Question
	for _, id := range ids {
		if q, ok := f.questions[id]; ok {
			questions = append(questions, *q)
		}
	}
	return questions, nil
}

func (f *fakeBackend) Categories(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var categories []string
	for _, q := range f.questions {
		if !seen[q.Category] {
			seen[q.Category] = true
			categories = append(categories, q.Category)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

// Matchmaking queue

func (f *fakeBackend) Enqueue(_ context.Context, entry *models.QueueEntry) error {
	f.mu.Lock()
	copied := *entry
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	f.queue[entry.ID] = &copied
	f.mu.Unlock()

	f.publish(NewChange(TableQueue, ChangeInsert, entry, nil))
	return nil
}

func (f *fakeBackend) GetByUser(_ context.Context, userID string) (*models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.queue {
		if e.UserID == userID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) OldestSearching(_ context.Context, category, excludeUserID string) (*models.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.QueueEntry
	for _, e := range f.queue {
		if e.Category != category || e.Status != models.QueueSearching || e.UserID == excludeUserID {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}
	copied := *oldest
	return &copied, nil
}

func (f *fakeBackend) MarkMatched(_ context.Context, entryID, roomID string) error {
	f.mu.Lock()
	entry, ok := f.queue[entryID]
	if !ok {
		f.mu.Unlock()
		return nil
	}
	old := *entry
	entry.Status = models.QueueMatched
	entry.RoomID = roomID
	updated := *entry
	f.mu.Unlock()

	f.publish(NewChange(TableQueue, ChangeUpdate, &updated, &old))
	return nil
}

func (f *fakeBackend) RemoveByUser(_ context.Context, userID string) error {
	f.mu.Lock()
	var removed []*models.QueueEntry
	for id, e := range f.queue {
		if e.UserID == userID {
			removed = append(removed, e)
			delete(f.queue, id)
		}
	}
	f.mu.Unlock()

	for _, e := range removed {
		f.publish(NewChange(TableQueue, ChangeDelete, nil, e))
	}
	return nil
}

// Profiles

func (f *fakeBackend) AddXP(_ context.Context, userID, category string, xp int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.xp[userID] == nil {
		f.xp[userID] = make(map[string]int)
	}
	f.xp[userID][category] += xp
	return nil
}

func (f *fakeBackend) GetXP(_ context.Context, userID string) ([]models.ProfileXP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []models.ProfileXP
	for category, xp := range f.xp[userID] {
		rows = append(rows, models.ProfileXP{UserID: userID, Category: category, XP: xp})
	}
	return rows, nil
}

func (f *fakeBackend) xpFor(userID, category string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xp[userID][category]
}

func (f *fakeBackend) advanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advanceCalls
}

func (f *fakeBackend) completeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls
}

// seedQuestions loads n questions for a category into the bank.
func (f *fakeBackend) seedQuestions(category string, n, timeLimit int) []models.Question {
	questions := make([]models.Question, n)
	for i := 0; i < n; i++ {
		q := models.Question{
			ID:            category + "-q" + string(rune('a'+i)),
			Text:          "question " + string(rune('a'+i)),
			Options:       models.StringList{"right", "wrong", "also wrong"},
			CorrectAnswer: "right",
			Difficulty:    "medium",
			TimeLimit:     timeLimit,
			Category:      category,
		}
		f.CreateQuestion(context.Background(), &q)
		questions[i] = q
	}
	return questions
}
