package services

import (
	"context"
	"errors"
	"time"

	"quizclash/models"

	"gorm.io/gorm"
)

// Store is the gorm-backed implementation of the backend interfaces. Every
// mutation publishes a change event so connected coordinators reconcile
// through the feed, the same way the original clients reconciled through
// their realtime subscriptions.
type Store struct {
	db   *gorm.DB
	feed Feed
}

func NewStore(db *gorm.DB, feed Feed) *Store {
	return &Store{db: db, feed: feed}
}

// Backend wires the store into every backend interface.
func (s *Store) Backend() *Backend {
	return &Backend{
		Rooms:     s,
		Players:   s,
		Answers:   s,
		Questions: s,
		Queue:     s,
		Profiles:  s,
	}
}

// Rooms

func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		return err
	}
	s.feed.Publish(ctx, NewChange(TableRooms, ChangeInsert, room, nil))
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *Store) FindWaitingByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).
		Where("room_code = ? AND status = ?", code, models.RoomWaiting).
		Order("created_at DESC").
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *Store) ListPublicWaiting(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Where("is_public = ? AND status = ?", true, models.RoomWaiting).
		Order("created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

func (s *Store) CompleteRoom(ctx context.Context, id string) (bool, error) {
	old, err := s.GetRoom(ctx, id)
	if err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND status <> ?", id, models.RoomCompleted).
		Update("status", models.RoomCompleted)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	updated := *old
	updated.Status = models.RoomCompleted
	s.feed.Publish(ctx, NewChange(TableRooms, ChangeUpdate, &updated, old))
	return true, nil
}

func (s *Store) StartRoom(ctx context.Context, id string) error {
	old, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}

	// Only a waiting room can start; concurrent auto-start attempts from
	// other members collapse into one effective write.
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND status = ?", id, models.RoomWaiting).
		Updates(map[string]interface{}{
			"status":                 models.RoomStarted,
			"current_question_index": 0,
			"question_start_time":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	updated := *old
	updated.Status = models.RoomStarted
	updated.CurrentQuestionIndex = 0
	updated.QuestionStartTime = &now
	s.feed.Publish(ctx, NewChange(TableRooms, ChangeUpdate, &updated, old))
	return nil
}

func (s *Store) AdvanceRoom(ctx context.Context, id string, fromIndex int, at time.Time) (bool, error) {
	old, err := s.GetRoom(ctx, id)
	if err != nil {
		return false, err
	}

	// Conditional write: only the first client to detect the advance wins;
	// everyone else observes zero rows affected.
	result := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND status = ? AND current_question_index = ?", id, models.RoomStarted, fromIndex).
		Updates(map[string]interface{}{
			"current_question_index": fromIndex + 1,
			"question_start_time":    at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	updated := *old
	updated.CurrentQuestionIndex = fromIndex + 1
	updated.QuestionStartTime = &at
	s.feed.Publish(ctx, NewChange(TableRooms, ChangeUpdate, &updated, old))
	return true, nil
}

func (s *Store) SetRoomHost(ctx context.Context, id, userID string) error {
	old, err := s.GetRoom(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", id).Update("created_by", userID).Error; err != nil {
		return err
	}

	updated := *old
	updated.CreatedBy = userID
	s.feed.Publish(ctx, NewChange(TableRooms, ChangeUpdate, &updated, old))
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	old, err := s.GetRoom(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return nil
		}
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.Room{}, "id = ?", id).Error; err != nil {
		return err
	}
	s.feed.Publish(ctx, NewChange(TableRooms, ChangeDelete, nil, old))
	return nil
}

// Players

func (s *Store) AddPlayer(ctx context.Context, player *models.RoomPlayer) error {
	if err := s.db.WithContext(ctx).Create(player).Error; err != nil {
		return err
	}
	s.feed.Publish(ctx, NewChange(TablePlayers, ChangeInsert, player, nil))
	return nil
}

func (s *Store) ListPlayers(ctx context.Context, roomID string) ([]models.RoomPlayer, error) {
	var players []models.RoomPlayer
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("score DESC, joined_at ASC").
		Find(&players).Error
	return players, err
}

func (s *Store) GetPlayer(ctx context.Context, roomID, userID string) (*models.RoomPlayer, error) {
	var player models.RoomPlayer
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (s *Store) RemovePlayer(ctx context.Context, roomID, userID string) (int64, error) {
	old, err := s.GetPlayer(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return 0, nil
		}
		return 0, err
	}

	result := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomPlayer{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.feed.Publish(ctx, NewChange(TablePlayers, ChangeDelete, nil, old))
	}
	return result.RowsAffected, nil
}

func (s *Store) CountPlayers(ctx context.Context, roomID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RoomPlayer{}).
		Where("room_id = ?", roomID).Count(&count).Error
	return int(count), err
}

func (s *Store) EarliestJoined(ctx context.Context, roomID string) (*models.RoomPlayer, error) {
	var player models.RoomPlayer
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		First(&player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (s *Store) ApplyScore(ctx context.Context, playerID string, points, streak, xp int) error {
	var old models.RoomPlayer
	if err := s.db.WithContext(ctx).First(&old, "id = ?", playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPlayerNotFound
		}
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.RoomPlayer{}).
		Where("id = ?", playerID).
		Updates(map[string]interface{}{
			"score":     gorm.Expr("score + ?", points),
			"streak":    streak,
			"xp_earned": gorm.Expr("xp_earned + ?", xp),
		}).Error; err != nil {
		return err
	}

	updated := old
	updated.Score += points
	updated.Streak = streak
	updated.XPEarned += xp
	s.feed.Publish(ctx, NewChange(TablePlayers, ChangeUpdate, &updated, &old))
	return nil
}

// Answers

func (s *Store) CreateAnswer(ctx context.Context, answer *models.RoomAnswer) error {
	if err := s.db.WithContext(ctx).Create(answer).Error; err != nil {
		return err
	}
	s.feed.Publish(ctx, NewChange(TableAnswers, ChangeInsert, answer, nil))
	return nil
}

func (s *Store) CountAnswers(ctx context.Context, roomID, questionID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RoomAnswer{}).
		Where("room_id = ? AND question_id = ?", roomID, questionID).
		Count(&count).Error
	return int(count), err
}

func (s *Store) HasAnswered(ctx context.Context, roomID, playerID, questionID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RoomAnswer{}).
		Where("room_id = ? AND player_id = ? AND question_id = ?", roomID, playerID, questionID).
		Count(&count).Error
	return count > 0, err
}

// Questions

func (s *Store) CreateQuestion(ctx context.Context, question *models.Question) error {
	return s.db.WithContext(ctx).Create(question).Error
}

func (s *Store) ListByCategory(ctx context.Context, category string) ([]models.Question, error) {
	query := s.db.WithContext(ctx).Model(&models.Question{})
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var questions []models.Question
	err := query.Find(&questions).Error
	return questions, err
}

func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error
	return questions, err
}

func (s *Store) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := s.db.WithContext(ctx).Model(&models.Question{}).
		Distinct("category").Order("category ASC").Pluck("category", &categories).Error
	return categories, err
}

// Matchmaking queue

func (s *Store) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	s.feed.Publish(ctx, NewChange(TableQueue, ChangeInsert, entry, nil))
	return nil
}

func (s *Store) GetByUser(ctx context.Context, userID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) OldestSearching(ctx context.Context, category, excludeUserID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("category = ? AND status = ? AND user_id <> ?", category, models.QueueSearching, excludeUserID).
		Order("created_at ASC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) MarkMatched(ctx context.Context, entryID, roomID string) error {
	var old models.QueueEntry
	if err := s.db.WithContext(ctx).First(&old, "id = ?", entryID).Error; err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{"status": models.QueueMatched, "room_id": roomID}).Error; err != nil {
		return err
	}

	updated := old
	updated.Status = models.QueueMatched
	updated.RoomID = roomID
	s.feed.Publish(ctx, NewChange(TableQueue, ChangeUpdate, &updated, &old))
	return nil
}

func (s *Store) RemoveByUser(ctx context.Context, userID string) error {
	var entries []models.QueueEntry
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&entries).Error; err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).Delete(&models.QueueEntry{}).Error; err != nil {
		return err
	}
	for i := range entries {
		s.feed.Publish(ctx, NewChange(TableQueue, ChangeDelete, nil, &entries[i]))
	}
	return nil
}

// Profiles

func (s *Store) AddXP(ctx context.Context, userID, category string, xp int) error {
	row := models.ProfileXP{UserID: userID, Category: category, XP: xp}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ProfileXP{}).
			Where("user_id = ? AND category = ?", userID, category).
			Update("xp", gorm.Expr("xp + ?", xp))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tx.Create(&row).Error
		}
		return nil
	})
}

func (s *Store) GetXP(ctx context.Context, userID string) ([]models.ProfileXP, error) {
	var rows []models.ProfileXP
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("category ASC").
		Find(&rows).Error
	return rows, err
}
