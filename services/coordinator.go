package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"quizclash/models"

	"github.com/google/uuid"
)

// GameState is the coordinator's session phase. It drives all downstream
// notification branching.
type GameState string

const (
	StateIdle      GameState = "idle"
	StateFinding   GameState = "finding"
	StateMatched   GameState = "matched"
	StateCountdown GameState = "countdown"
	StatePlaying   GameState = "playing"
	StateWaiting   GameState = "waiting"
	StateResults   GameState = "results"
)

// Timing knobs. Vars so the package tests can run the whole cycle without
// wall-clock waits.
var (
	countdownDelay    = 3 * time.Second
	roomFullDelay     = 3 * time.Second
	resultsClearDelay = 10 * time.Second
	matchCheckDelay   = 500 * time.Millisecond
	clockTick         = time.Second
)

// Notifier receives user-facing events from a coordinator. The hub wires it
// to the player's websocket.
type Notifier func(event string, payload interface{})

// Coordinator owns all session state for one player's participation in
// matchmaking and a multiplayer quiz game: queue polling, room membership,
// the countdown/playing cycle, scoring, and reconciliation with the change
// feed. One instance exists per connected player.
type Coordinator struct {
	userID   string
	username string

	backend    *Backend
	matchmaker Matchmaker
	questions  *QuestionService
	scoring    *ScoringService
	sessions   SessionStore
	feed       Feed
	notify     Notifier

	mu           sync.Mutex
	state        GameState
	room         *models.Room
	players      []models.RoomPlayer
	questionSet  []models.Question
	current      *models.Question
	timeLeft     int
	selected     string
	finalResults []models.RoomPlayer
	publicRooms  []models.Room

	// activeIndex is the question index currently in countdown or play;
	// advancedPast is the one-shot advancement latch. Both only grow while a
	// game runs, which is what makes the timeout and all-answered triggers
	// safe to race.
	activeIndex  int
	advancedPast int

	quickStarted     bool
	autoStartPending bool

	pollCancel     context.CancelFunc
	clockStop      chan struct{}
	countdownTimer *time.Timer
	roomFullTimer  *time.Timer
	resultsTimer   *time.Timer
	checkTimer     *time.Timer

	unsubs []func()
	closed bool
}

func NewCoordinator(userID, username string, backend *Backend, matchmaker Matchmaker, questions *QuestionService, scoring *ScoringService, sessions SessionStore, feed Feed, notify Notifier) *Coordinator {
	if notify == nil {
		notify = func(string, interface{}) {}
	}
	return &Coordinator{
		userID:       userID,
		username:     username,
		backend:      backend,
		matchmaker:   matchmaker,
		questions:    questions,
		scoring:      scoring,
		sessions:     sessions,
		feed:         feed,
		notify:       notify,
		state:        StateIdle,
		activeIndex:  -1,
		advancedPast: -1,
	}
}

// Start subscribes to the four change streams and attempts to restore a
// previous session.
func (c *Coordinator) Start(ctx context.Context) {
	c.unsubs = append(c.unsubs,
		c.feed.Subscribe(TableQueue, c.onQueueEvent),
		c.feed.Subscribe(TableRooms, c.onRoomEvent),
		c.feed.Subscribe(TablePlayers, c.onPlayerEvent),
		c.feed.Subscribe(TableAnswers, c.onAnswerEvent),
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLocked(ctx)
}

// Close tears down subscriptions and timers. Events arriving afterwards are
// dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimersLocked()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Snapshot is the coordinator's current state for state-sync requests.
type Snapshot struct {
	GameState       GameState           `json:"game_state"`
	Room            *models.Room        `json:"room,omitempty"`
	Players         []models.RoomPlayer `json:"players"`
	CurrentQuestion *models.Question    `json:"current_question,omitempty"`
	TimeLeft        int                 `json:"time_left"`
	SelectedAnswer  string              `json:"selected_answer"`
	FinalResults    []models.RoomPlayer `json:"final_results,omitempty"`
	PublicRooms     []models.Room       `json:"public_rooms,omitempty"`
	TotalQuestions  int                 `json:"total_questions"`
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		GameState:       c.state,
		Room:            c.room,
		Players:         c.players,
		CurrentQuestion: c.current,
		TimeLeft:        c.timeLeft,
		SelectedAnswer:  c.selected,
		FinalResults:    c.finalResults,
		PublicRooms:     c.publicRooms,
		TotalQuestions:  len(c.questionSet),
	}
}

func (c *Coordinator) State() GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session restoration. Any failure clears the store and falls back silently
// to idle; stale local state is an expected consequence of time passing, not
// an error to surface.
func (c *Coordinator) restoreLocked(ctx context.Context) {
	snap, ok := c.sessions.Load(ctx)
	if !ok {
		return
	}

	if snap.UserID != c.userID || snap.Room == nil ||
		snap.GameState == StateIdle || snap.GameState == StateFinding {
		c.clearSessionLocked(ctx)
		return
	}

	room, err := c.backend.Rooms.GetRoom(ctx, snap.Room.ID)
	if err != nil {
		c.clearSessionLocked(ctx)
		return
	}

	if _, err := c.backend.Players.GetPlayer(ctx, room.ID, c.userID); err != nil {
		c.clearSessionLocked(ctx)
		return
	}

	players, err := c.backend.Players.ListPlayers(ctx, room.ID)
	if err != nil {
		c.clearSessionLocked(ctx)
		return
	}

	c.room = room
	c.players = players

	switch room.Status {
	case models.RoomCompleted:
		c.finalResults = players
		c.state = StateResults
		c.scheduleResultsClearLocked()
		c.persistLocked(ctx)

	case models.RoomStarted:
		questionSet, err := c.questions.LoadForRoom(ctx, room)
		if err != nil || len(questionSet) == 0 {
			c.resetLocked(ctx, true)
			return
		}
		c.questionSet = questionSet
		c.enterCountdownLocked(ctx, room.CurrentQuestionIndex)

	case models.RoomWaiting:
		questionSet, err := c.questions.LoadForRoom(ctx, room)
		if err != nil {
			c.resetLocked(ctx, true)
			return
		}
		c.questionSet = questionSet
		c.state = StateMatched
		c.persistLocked(ctx)

	default:
		c.resetLocked(ctx, true)
	}
}

func (c *Coordinator) clearSessionLocked(ctx context.Context) {
	if err := c.sessions.Clear(ctx); err != nil {
		log.Printf("Failed to clear session for %s: %v", c.userID, err)
	}
}

// Matchmaking client.

// FindMatch enqueues the player and begins polling until matched or
// cancelled.
func (c *Coordinator) FindMatch(ctx context.Context, category string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return errors.New("already in a session")
	}
	if category == "" {
		category = DefaultCategory
	}

	c.state = StateFinding
	c.persistLocked(ctx)
	c.notify("finding", map[string]interface{}{"category": category})

	result, err := c.matchmaker.FindMatch(ctx, c.userID, c.username, category)
	if err != nil {
		c.state = StateIdle
		c.persistLocked(ctx)
		return err
	}

	if result.Matched && result.Room != nil {
		c.handleMatchLocked(ctx, result.Room)
		return nil
	}

	c.startPollLocked()
	return nil
}

// CancelMatch stops polling, removes the player from the queue, and returns
// to idle.
func (c *Coordinator) CancelMatch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateFinding {
		return nil
	}

	c.stopPollLocked()
	if err := c.matchmaker.CancelMatch(ctx, c.userID); err != nil {
		log.Printf("Failed to cancel matchmaking for %s: %v", c.userID, err)
	}
	c.resetLocked(ctx, true)
	return nil
}

func (c *Coordinator) startPollLocked() {
	c.stopPollLocked()
	pollCtx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel

	go pollUntil(pollCtx, matchPollSchedule, func(ctx context.Context) bool {
		result, err := c.matchmaker.CheckMatch(ctx, c.userID)
		if err != nil {
			log.Printf("Match check failed for %s: %v", c.userID, err)
			return false
		}
		if !result.Matched || result.Room == nil {
			return false
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		// The poll context is about to be cancelled by the match handler;
		// the follow-up reads need a live one.
		c.handleMatchLocked(context.Background(), result.Room)
		return true
	})
}

func (c *Coordinator) stopPollLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// handleMatchLocked is the single match-acceptance path, shared by the
// immediate response, the poll, and the queue push. Whichever fires first
// wins; later deliveries observe state past finding and no-op.
func (c *Coordinator) handleMatchLocked(ctx context.Context, room *models.Room) {
	if c.state != StateFinding {
		return
	}

	c.stopPollLocked()

	players, err := c.backend.Players.ListPlayers(ctx, room.ID)
	if err != nil {
		log.Printf("Failed to load players for room %s: %v", room.ID, err)
	}

	c.room = room
	c.players = players

	questionSet, err := c.questions.LoadForRoom(ctx, room)
	if err != nil || len(questionSet) == 0 {
		log.Printf("No questions for matched room %s: %v", room.ID, err)
		c.resetLocked(ctx, true)
		c.notify("error", map[string]interface{}{"message": ErrNoQuestions.Error()})
		return
	}
	c.questionSet = questionSet

	c.notify("match_found", map[string]interface{}{"room": room, "players": players})

	if room.Status == models.RoomStarted {
		// Quick 1-on-1 matches are auto-started server-side; go straight to
		// the countdown once the question set is confirmed non-empty.
		c.enterCountdownLocked(ctx, room.CurrentQuestionIndex)
		return
	}

	c.state = StateMatched
	c.persistLocked(ctx)
	c.ensureQuickMatchStartedLocked(ctx)
}

// ensureQuickMatchStartedLocked forces a paired 2-player room to started.
// Quick-match rooms have no separate host-initiated start step. Idempotent
// via the quickStarted latch.
func (c *Coordinator) ensureQuickMatchStartedLocked(ctx context.Context) {
	if c.quickStarted || c.room == nil || !c.room.IsQuickMatch() {
		return
	}
	if c.room.Status != models.RoomWaiting {
		return
	}
	c.quickStarted = true

	if err := c.backend.Rooms.StartRoom(ctx, c.room.ID); err != nil {
		log.Printf("Failed to start quick-match room %s: %v", c.room.ID, err)
		return
	}

	now := time.Now()
	c.room.Status = models.RoomStarted
	c.room.CurrentQuestionIndex = 0
	c.room.QuestionStartTime = &now
	c.enterCountdownLocked(ctx, 0)
}

// Room lifecycle.

type CreateRoomRequest struct {
	MaxPlayers    int    `json:"max_players"`
	IsPublic      bool   `json:"is_public"`
	Category      string `json:"category"`
	QuestionCount int    `json:"question_count"`
}

func (c *Coordinator) CreateRoom(ctx context.Context, req CreateRoomRequest) (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, errors.New("already in a session")
	}
	if req.MaxPlayers < 2 {
		req.MaxPlayers = 2
	}
	if req.Category == "" {
		req.Category = DefaultCategory
	}

	count := req.QuestionCount
	if count <= 0 {
		if req.MaxPlayers == 2 {
			count = c.questions.QuickMatchCount()
		} else {
			count = defaultQuestionCount
		}
	}

	ids, err := c.questions.BuildShuffle(ctx, req.Category, count)
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		ID:                uuid.NewString(),
		Status:            models.RoomWaiting,
		MaxPlayers:        req.MaxPlayers,
		RoomCode:          GenerateRoomCode(),
		IsPublic:          req.IsPublic,
		CreatedBy:         c.userID,
		Category:          req.Category,
		ShuffledQuestions: ids,
	}

	if err := c.backend.Rooms.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := c.joinLocked(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (c *Coordinator) JoinRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, errors.New("already in a session")
	}

	room, err := c.backend.Rooms.FindWaitingByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return room, c.joinWithCapacityCheckLocked(ctx, room)
}

func (c *Coordinator) JoinPublicRoom(ctx context.Context, roomID string) (*models.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, errors.New("already in a session")
	}

	room, err := c.backend.Rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != models.RoomWaiting {
		return nil, ErrRoomNotFound
	}
	return room, c.joinWithCapacityCheckLocked(ctx, room)
}

func (c *Coordinator) joinWithCapacityCheckLocked(ctx context.Context, room *models.Room) error {
	count, err := c.backend.Players.CountPlayers(ctx, room.ID)
	if err != nil {
		return err
	}
	if count >= room.MaxPlayers {
		return ErrRoomFull
	}

	if err := c.joinLocked(ctx, room); err != nil {
		return err
	}

	if len(c.players) >= room.MaxPlayers {
		c.scheduleAutoStartLocked()
	}
	return nil
}

func (c *Coordinator) joinLocked(ctx context.Context, room *models.Room) error {
	player := &models.RoomPlayer{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		UserID:   c.userID,
		Username: c.username,
		JoinedAt: time.Now(),
	}
	if err := c.backend.Players.AddPlayer(ctx, player); err != nil {
		return err
	}

	players, err := c.backend.Players.ListPlayers(ctx, room.ID)
	if err != nil {
		return err
	}

	questionSet, err := c.questions.LoadForRoom(ctx, room)
	if err != nil {
		return err
	}

	c.room = room
	c.players = players
	c.questionSet = questionSet
	c.state = StateMatched
	c.persistLocked(ctx)
	c.notify("room_joined", map[string]interface{}{"room": room, "players": players})
	return nil
}

// StartGame begins the game. Host only; refuses to start with an empty
// question set.
func (c *Coordinator) StartGame(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil || c.state != StateMatched {
		return errors.New("no room to start")
	}
	if c.room.CreatedBy != c.userID {
		return errors.New("only the host can start the game")
	}

	if len(c.questionSet) == 0 {
		questionSet, err := c.questions.LoadForRoom(ctx, c.room)
		if err != nil {
			return err
		}
		c.questionSet = questionSet
	}
	if len(c.questionSet) == 0 {
		return ErrNoQuestions
	}

	if err := c.backend.Rooms.StartRoom(ctx, c.room.ID); err != nil {
		return err
	}

	now := time.Now()
	c.room.Status = models.RoomStarted
	c.room.CurrentQuestionIndex = 0
	c.room.QuestionStartTime = &now
	c.enterCountdownLocked(ctx, 0)
	return nil
}

// LeaveRoom performs the strict teardown ordering: delete the membership
// row, verify the delete, apply server-side consequences (completion, room
// deletion, host transfer), and only then reset local state. Resetting first
// would race the durable writes.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == nil {
		c.resetLocked(ctx, true)
		return nil
	}

	room := c.room
	wasHost := room.CreatedBy == c.userID
	inProgress := room.Status == models.RoomStarted ||
		c.state == StatePlaying || c.state == StateCountdown || c.state == StateWaiting

	removed, err := c.backend.Players.RemovePlayer(ctx, room.ID, c.userID)
	if err != nil {
		return err
	}
	if removed != 1 {
		return errors.New("leave was not applied")
	}

	remaining, err := c.backend.Players.CountPlayers(ctx, room.ID)
	if err != nil {
		return err
	}

	if inProgress && (wasHost || remaining < 2) {
		won, err := c.backend.Rooms.CompleteRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		// The leaver can win the completion write; the remaining clients will
		// lose it, so the flush has to happen here for their XP to land.
		if won && remaining > 0 {
			if standings, err := c.backend.Players.ListPlayers(ctx, room.ID); err == nil {
				c.flushXP(ctx, room.Category, standings)
			}
		}
	}

	if remaining == 0 {
		if err := c.backend.Rooms.DeleteRoom(ctx, room.ID); err != nil {
			return err
		}
	} else if room.Status == models.RoomWaiting && wasHost {
		next, err := c.backend.Players.EarliestJoined(ctx, room.ID)
		if err != nil {
			return err
		}
		if err := c.backend.Rooms.SetRoomHost(ctx, room.ID, next.UserID); err != nil {
			return err
		}
	}

	c.resetLocked(ctx, true)
	return nil
}

// scheduleAutoStartLocked arms the room-full grace delay: when membership
// reaches max_players while waiting, the room starts 3 seconds later.
func (c *Coordinator) scheduleAutoStartLocked() {
	if c.autoStartPending || c.room == nil || c.room.Status != models.RoomWaiting {
		return
	}
	c.autoStartPending = true

	roomID := c.room.ID
	c.roomFullTimer = time.AfterFunc(roomFullDelay, func() {
		ctx := context.Background()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.autoStartPending = false
		if c.closed || c.room == nil || c.room.ID != roomID || c.room.Status != models.RoomWaiting {
			return
		}
		if len(c.players) < c.room.MaxPlayers {
			return
		}

		// Every full-room member schedules this; the write is idempotent at
		// the value level and the countdown latch absorbs duplicates.
		if err := c.backend.Rooms.StartRoom(ctx, c.room.ID); err != nil {
			log.Printf("Failed to auto-start room %s: %v", c.room.ID, err)
			return
		}
		now := time.Now()
		c.room.Status = models.RoomStarted
		c.room.CurrentQuestionIndex = 0
		c.room.QuestionStartTime = &now
		c.enterCountdownLocked(ctx, 0)
	})
}

// Game clock and progression.

func (c *Coordinator) enterCountdownLocked(ctx context.Context, index int) {
	if c.closed || c.room == nil || len(c.questionSet) == 0 {
		return
	}
	if index <= c.activeIndex {
		return
	}
	if index >= len(c.questionSet) {
		c.finishGameLocked(ctx)
		return
	}

	c.activeIndex = index
	c.state = StateCountdown
	c.current = nil
	c.selected = ""
	c.stopClockLocked()
	c.persistLocked(ctx)
	c.notify("countdown", map[string]interface{}{
		"question_index":  index,
		"total_questions": len(c.questionSet),
	})

	if c.countdownTimer != nil {
		c.countdownTimer.Stop()
	}
	c.countdownTimer = time.AfterFunc(countdownDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.beginQuestionLocked(context.Background(), index)
	})
}

func (c *Coordinator) beginQuestionLocked(ctx context.Context, index int) {
	if c.closed || c.state != StateCountdown || c.activeIndex != index {
		return
	}

	question := c.questionSet[index]
	c.current = &question
	c.timeLeft = question.TimeLimit
	c.selected = ""
	c.state = StatePlaying
	c.persistLocked(ctx)
	c.notify("question_start", map[string]interface{}{
		"question_index":  index,
		"question":        publicQuestion(&question),
		"time_limit":      question.TimeLimit,
		"total_questions": len(c.questionSet),
	})

	c.startClockLocked(index)
}

// publicQuestion strips the correct answer before sending a question to the
// player.
func publicQuestion(q *models.Question) map[string]interface{} {
	return map[string]interface{}{
		"id":         q.ID,
		"text":       q.Text,
		"options":    q.Options,
		"difficulty": q.Difficulty,
		"time_limit": q.TimeLimit,
		"category":   q.Category,
	}
}

func (c *Coordinator) startClockLocked(index int) {
	c.stopClockLocked()
	stop := make(chan struct{})
	c.clockStop = stop
	go c.runClock(index, stop)
}

func (c *Coordinator) stopClockLocked() {
	if c.clockStop != nil {
		close(c.clockStop)
		c.clockStop = nil
	}
}

// runClock decrements the countdown once per second and polls for the
// all-answered condition; whichever trigger fires first advances the
// question.
func (c *Coordinator) runClock(index int, stop chan struct{}) {
	ticker := time.NewTicker(clockTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx := context.Background()

		c.mu.Lock()
		if c.closed || c.clockStop != stop || c.activeIndex != index {
			c.mu.Unlock()
			return
		}

		if c.timeLeft > 0 {
			c.timeLeft--
		}
		c.persistLocked(ctx)
		c.notify("timer_update", map[string]interface{}{
			"question_index": index,
			"time_left":      c.timeLeft,
		})

		if c.timeLeft <= 0 {
			c.advanceLocked(ctx, index)
			c.mu.Unlock()
			return
		}

		if c.allAnsweredLocked(ctx) {
			c.advanceLocked(ctx, index)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) allAnsweredLocked(ctx context.Context) bool {
	if c.room == nil || c.current == nil || len(c.players) == 0 {
		return false
	}

	count, err := c.backend.Answers.CountAnswers(ctx, c.room.ID, c.current.ID)
	if err != nil {
		log.Printf("Failed to count answers for room %s: %v", c.room.ID, err)
		return false
	}
	return count >= len(c.players)
}

// advanceLocked moves past the given question exactly once, regardless of
// how many triggers fire for it.
func (c *Coordinator) advanceLocked(ctx context.Context, index int) {
	if c.advancedPast >= index || c.room == nil {
		return
	}
	c.advancedPast = index
	c.stopClockLocked()

	// A question that elapses with no submission breaks the streak, the same
	// as an incorrect answer would.
	if c.selected == "" {
		c.breakStreakLocked(ctx)
	}

	next := index + 1
	if next >= len(c.questionSet) {
		c.finishGameLocked(ctx)
		return
	}

	now := time.Now()
	advanced, err := c.backend.Rooms.AdvanceRoom(ctx, c.room.ID, index, now)
	if err != nil {
		log.Printf("Failed to advance room %s past question %d: %v", c.room.ID, index, err)
	} else if !advanced {
		// Another client won the conditional write; same next value either
		// way.
		log.Printf("Room %s already advanced past question %d", c.room.ID, index)
	}

	c.room.CurrentQuestionIndex = next
	c.room.QuestionStartTime = &now
	c.enterCountdownLocked(ctx, next)
}

// breakStreakLocked zeroes the local player's streak, durably and in the
// local snapshot, so the next correct answer restarts at 1.
func (c *Coordinator) breakStreakLocked(ctx context.Context) {
	for i := range c.players {
		if c.players[i].UserID != c.userID {
			continue
		}
		if c.players[i].Streak == 0 {
			return
		}
		if err := c.backend.Players.ApplyScore(ctx, c.players[i].ID, 0, 0, 0); err != nil {
			log.Printf("Failed to reset streak for player %s: %v", c.players[i].ID, err)
			return
		}
		c.players[i].Streak = 0
		return
	}
}

// finishGameLocked freezes the standings, flushes XP, and enters results.
func (c *Coordinator) finishGameLocked(ctx context.Context) {
	if c.state == StateResults || c.room == nil {
		return
	}

	c.stopClockLocked()
	if c.countdownTimer != nil {
		c.countdownTimer.Stop()
		c.countdownTimer = nil
	}

	completed := false
	if c.room.Status != models.RoomCompleted {
		won, err := c.backend.Rooms.CompleteRoom(ctx, c.room.ID)
		if err != nil {
			log.Printf("Failed to complete room %s: %v", c.room.ID, err)
		}
		completed = won
		c.room.Status = models.RoomCompleted
	}

	standings, err := c.backend.Players.ListPlayers(ctx, c.room.ID)
	if err != nil {
		log.Printf("Failed to load final standings for room %s: %v", c.room.ID, err)
		standings = c.players
	}

	c.players = standings
	c.finalResults = standings
	c.current = nil
	c.state = StateResults

	// The client that won the completion write flushes XP for everyone.
	if completed {
		c.flushXP(ctx, c.room.Category, standings)
	}

	c.persistLocked(ctx)
	c.notify("game_end", map[string]interface{}{"final_results": standings})
	c.scheduleResultsClearLocked()
}

// flushXP credits each player's earned XP to their profile, best effort per
// player: one failed update is logged and never blocks the others.
func (c *Coordinator) flushXP(ctx context.Context, category string, standings []models.RoomPlayer) {
	for _, player := range standings {
		if player.XPEarned <= 0 {
			continue
		}
		if err := c.backend.Profiles.AddXP(ctx, player.UserID, category, player.XPEarned); err != nil {
			log.Printf("Failed to flush %d XP for user %s: %v", player.XPEarned, player.UserID, err)
		}
	}
}

func (c *Coordinator) scheduleResultsClearLocked() {
	if c.resultsTimer != nil {
		c.resultsTimer.Stop()
	}
	c.resultsTimer = time.AfterFunc(resultsClearDelay, func() {
		ctx := context.Background()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.state != StateResults {
			return
		}
		c.resetLocked(ctx, true)
	})
}

// Scoring.

// SubmitAnswer scores the local player's choice for the current question.
func (c *Coordinator) SubmitAnswer(ctx context.Context, answer string) (*SubmittedAnswer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || c.current == nil {
		return nil, errors.New("no question to answer")
	}
	if c.selected != "" {
		return nil, errors.New("answer already submitted")
	}

	var player *models.RoomPlayer
	for i := range c.players {
		if c.players[i].UserID == c.userID {
			player = &c.players[i]
			break
		}
	}
	if player == nil {
		// Never create a phantom player record for a stale submission.
		log.Printf("Submit by user %s not present in room %s, skipping", c.userID, c.room.ID)
		return nil, ErrPlayerNotFound
	}

	result, err := c.scoring.Submit(ctx, c.room, player, c.current, answer, c.timeLeft)
	if err != nil {
		return nil, err
	}

	c.selected = answer
	c.state = StateWaiting
	c.refreshPlayersLocked(ctx)
	c.persistLocked(ctx)
	c.notify("answer_submitted", map[string]interface{}{
		"points": result.Points,
		"streak": result.Streak,
	})
	return result, nil
}

// Realtime event router. Handlers catch their own failures; an event for a
// room or player that no longer exists is a no-op.

func (c *Coordinator) onQueueEvent(event ChangeEvent) {
	var entry models.QueueEntry
	if err := event.DecodeNew(&entry); err != nil {
		log.Printf("Bad queue change payload: %v", err)
		return
	}

	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateFinding {
		return
	}

	switch event.Type {
	case ChangeUpdate:
		if entry.UserID != c.userID || entry.Status != models.QueueMatched || entry.RoomID == "" {
			return
		}
		room, err := c.backend.Rooms.GetRoom(ctx, entry.RoomID)
		if err != nil {
			log.Printf("Matched room %s not found: %v", entry.RoomID, err)
			return
		}
		c.handleMatchLocked(ctx, room)

	case ChangeInsert:
		if entry.UserID == c.userID {
			return
		}
		// Another player just queued; check out of band after a short settle
		// delay instead of waiting for the next scheduled poll.
		if c.checkTimer != nil {
			c.checkTimer.Stop()
		}
		c.checkTimer = time.AfterFunc(matchCheckDelay, func() {
			checkCtx := context.Background()
			result, err := c.matchmaker.CheckMatch(checkCtx, c.userID)
			if err != nil || !result.Matched || result.Room == nil {
				return
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return
			}
			c.handleMatchLocked(checkCtx, result.Room)
		})
	}
}

func (c *Coordinator) onRoomEvent(event ChangeEvent) {
	var room models.Room
	if err := event.DecodeNew(&room); err != nil {
		log.Printf("Bad room change payload: %v", err)
		return
	}
	if event.Type == ChangeDelete {
		if err := event.DecodeOld(&room); err != nil {
			log.Printf("Bad room change payload: %v", err)
			return
		}
	}

	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.room == nil {
		// Not in a room: churn anywhere refreshes the lobby view.
		c.refreshPublicRoomsLocked(ctx)
		return
	}
	if c.room.ID != room.ID {
		return
	}

	switch event.Type {
	case ChangeDelete:
		c.resetLocked(ctx, true)
		c.notify("room_closed", map[string]interface{}{"message": "room closed"})

	case ChangeUpdate:
		c.room = &room
		switch room.Status {
		case models.RoomStarted:
			if len(c.questionSet) == 0 {
				questionSet, err := c.questions.LoadForRoom(ctx, &room)
				if err != nil || len(questionSet) == 0 {
					log.Printf("No questions for room %s on start: %v", room.ID, err)
					return
				}
				c.questionSet = questionSet
			}
			c.enterCountdownLocked(ctx, room.CurrentQuestionIndex)

		case models.RoomCompleted:
			c.finishGameLocked(ctx)

		default:
			c.persistLocked(ctx)
		}
	}
}

func (c *Coordinator) onPlayerEvent(event ChangeEvent) {
	var player models.RoomPlayer
	if event.Type == ChangeDelete {
		if err := event.DecodeOld(&player); err != nil {
			log.Printf("Bad player change payload: %v", err)
			return
		}
	} else {
		if err := event.DecodeNew(&player); err != nil {
			log.Printf("Bad player change payload: %v", err)
			return
		}
	}

	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.room == nil || player.RoomID != c.room.ID {
		return
	}

	switch event.Type {
	case ChangeInsert:
		c.refreshPlayersLocked(ctx)
		if player.UserID != c.userID {
			c.notify("player_joined", map[string]interface{}{"username": player.Username})
		}
		if c.room.Status == models.RoomWaiting && len(c.players) >= c.room.MaxPlayers {
			c.scheduleAutoStartLocked()
		}
		c.persistLocked(ctx)

	case ChangeDelete:
		if player.UserID == c.userID {
			// Our own membership vanished out from under us.
			c.resetLocked(ctx, true)
			c.notify("room_closed", map[string]interface{}{"message": "removed from room"})
			return
		}
		c.refreshPlayersLocked(ctx)
		c.notify("player_left", map[string]interface{}{"username": player.Username})
		c.persistLocked(ctx)

	case ChangeUpdate:
		c.refreshPlayersLocked(ctx)
		c.persistLocked(ctx)
	}
}

func (c *Coordinator) onAnswerEvent(event ChangeEvent) {
	var answer models.RoomAnswer
	if err := event.DecodeNew(&answer); err != nil {
		log.Printf("Bad answer change payload: %v", err)
		return
	}

	ctx := context.Background()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.room == nil || answer.RoomID != c.room.ID {
		return
	}
	if event.Type != ChangeInsert {
		return
	}

	// Reflect score changes promptly, before the player-row update lands.
	c.refreshPlayersLocked(ctx)
	c.persistLocked(ctx)
}

func (c *Coordinator) refreshPlayersLocked(ctx context.Context) {
	if c.room == nil {
		return
	}
	players, err := c.backend.Players.ListPlayers(ctx, c.room.ID)
	if err != nil {
		log.Printf("Failed to refresh players for room %s: %v", c.room.ID, err)
		return
	}
	c.players = players
	c.notify("players_update", map[string]interface{}{"players": players})
}

func (c *Coordinator) refreshPublicRoomsLocked(ctx context.Context) {
	rooms, err := c.backend.Rooms.ListPublicWaiting(ctx)
	if err != nil {
		log.Printf("Failed to refresh public rooms: %v", err)
		return
	}
	c.publicRooms = rooms
	c.notify("public_rooms", map[string]interface{}{"rooms": rooms})
}

// ListPublicRooms refreshes and returns the lobby view.
func (c *Coordinator) ListPublicRooms(ctx context.Context) []models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshPublicRoomsLocked(ctx)
	return c.publicRooms
}

// State bookkeeping.

func (c *Coordinator) persistLocked(ctx context.Context) {
	state := &SessionState{
		UserID:         c.userID,
		GameState:      c.state,
		Room:           c.room,
		Players:        c.players,
		Questions:      c.questionSet,
		TimeLeft:       c.timeLeft,
		SelectedAnswer: c.selected,
		FinalResults:   c.finalResults,
		PublicRooms:    c.publicRooms,
	}
	if err := c.sessions.Save(ctx, state); err != nil {
		log.Printf("Failed to persist session for %s: %v", c.userID, err)
	}
}

func (c *Coordinator) stopTimersLocked() {
	c.stopPollLocked()
	c.stopClockLocked()
	for _, timer := range []*time.Timer{c.countdownTimer, c.roomFullTimer, c.resultsTimer, c.checkTimer} {
		if timer != nil {
			timer.Stop()
		}
	}
	c.countdownTimer = nil
	c.roomFullTimer = nil
	c.resultsTimer = nil
	c.checkTimer = nil
}

// resetLocked returns the session to idle, cancelling everything pending.
func (c *Coordinator) resetLocked(ctx context.Context, clearStore bool) {
	c.stopTimersLocked()

	c.state = StateIdle
	c.room = nil
	c.players = nil
	c.questionSet = nil
	c.current = nil
	c.timeLeft = 0
	c.selected = ""
	c.finalResults = nil
	c.activeIndex = -1
	c.advancedPast = -1
	c.quickStarted = false
	c.autoStartPending = false

	if clearStore {
		c.clearSessionLocked(ctx)
	}
}
