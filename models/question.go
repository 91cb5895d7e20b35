package models

import "time"

type Question struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	Text          string     `json:"text" gorm:"not null"`
	Options       StringList `json:"options" gorm:"type:text;not null"`
	CorrectAnswer string     `json:"correct_answer" gorm:"not null"`
	Difficulty    string     `json:"difficulty" gorm:"not null;default:'medium'"`
	TimeLimit     int        `json:"time_limit" gorm:"not null;default:30"` // seconds
	Category      string     `json:"category" gorm:"not null;index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Question) TableName() string {
	return "multiplayer_quiz_questions"
}
