package models

import "time"

type RoomAnswer struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	RoomID     string    `json:"room_id" gorm:"not null;index"`
	PlayerID   string    `json:"player_id" gorm:"not null;index"`
	QuestionID string    `json:"question_id" gorm:"not null"`
	Answer     string    `json:"answer" gorm:"not null"`
	IsCorrect  bool      `json:"is_correct" gorm:"not null"`
	TimeSpent  int       `json:"time_spent" gorm:"not null"` // seconds
	Points     int       `json:"points" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RoomAnswer) TableName() string {
	return "quiz_room_answers"
}
