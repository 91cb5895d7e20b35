package models

import "time"

// ProfileXP is a user's accumulated multiplayer XP for one category.
type ProfileXP struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	Category  string    `json:"category" gorm:"primaryKey"`
	XP        int       `json:"xp" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProfileXP) TableName() string {
	return "profile_xp"
}
