package models

import "time"

const (
	QueueSearching = "searching"
	QueueMatched   = "matched"
)

type QueueEntry struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	Username  string    `json:"username" gorm:"not null"`
	Category  string    `json:"category" gorm:"not null;default:'General'"`
	Status    string    `json:"status" gorm:"not null;default:'searching'"` // searching, matched
	RoomID    string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (QueueEntry) TableName() string {
	return "matchmaking_queue"
}
