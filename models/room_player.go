package models

import "time"

type RoomPlayer struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	RoomID   string    `json:"room_id" gorm:"not null;index"`
	UserID   string    `json:"user_id" gorm:"not null;index"`
	Username string    `json:"username" gorm:"not null"`
	Score    int       `json:"score" gorm:"not null;default:0"`
	Streak   int       `json:"streak" gorm:"not null;default:0"`
	XPEarned int       `json:"xp_earned" gorm:"not null;default:0"`
	JoinedAt time.Time `json:"joined_at"`
}

func (RoomPlayer) TableName() string {
	return "quiz_room_players"
}
