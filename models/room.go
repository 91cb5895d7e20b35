package models

import "time"

const (
	RoomWaiting   = "waiting"
	RoomStarted   = "started"
	RoomCompleted = "completed"
)

type Room struct {
	ID                   string     `json:"id" gorm:"primaryKey"`
	Status               string     `json:"status" gorm:"not null;default:'waiting'"` // waiting, started, completed
	MaxPlayers           int        `json:"max_players" gorm:"not null;default:2"`
	RoomCode             string     `json:"room_code" gorm:"not null;index"`
	IsPublic             bool       `json:"is_public" gorm:"not null;default:false"`
	CreatedBy            string     `json:"created_by" gorm:"not null"` // host user id
	Category             string     `json:"category" gorm:"not null;default:'General'"`
	CurrentQuestionIndex int        `json:"current_question_index" gorm:"not null;default:0"`
	QuestionStartTime    *time.Time `json:"question_start_time"`
	// Fixed question order decided at creation. Nil for legacy quick-match
	// rooms, which synthesize an order client-side.
	ShuffledQuestions StringList `json:"shuffled_questions" gorm:"type:text"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Room) TableName() string {
	return "quiz_rooms"
}

// IsQuickMatch reports whether the room is a 2-player auto-paired room.
func (r *Room) IsQuickMatch() bool {
	return r.MaxPlayers == 2 && !r.IsPublic
}
