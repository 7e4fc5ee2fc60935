package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationStatusPending    ConversationStatus = "pending"
	ConversationStatusInProgress ConversationStatus = "in_progress"
	ConversationStatusCompleted  ConversationStatus = "completed"
	ConversationStatusFailed     ConversationStatus = "failed"
)

func (s ConversationStatus) IsTerminal() bool {
	return s == ConversationStatusCompleted || s == ConversationStatusFailed
}

// Speaker identifies which persona produced a turn
type Speaker string

const (
	SpeakerA Speaker = "A"
	SpeakerB Speaker = "B"
)

// SpeakerForRound returns the persona speaking in round: odd rounds are A, even rounds are B.
func SpeakerForRound(round int) Speaker {
	if round%2 == 1 {
		return SpeakerA
	}
	return SpeakerB
}

// Conversation is the authoritative record of an AI persona dialogue for one match
type Conversation struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	MatchID      uuid.UUID          `db:"match_id" json:"match_id"`
	Status       ConversationStatus `db:"status" json:"status"`
	CurrentRound int                `db:"current_round" json:"current_round"`
	TotalRounds  int                `db:"total_rounds" json:"total_rounds"`
	StartedAt    *time.Time         `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`

	Turns []Turn `db:"-" json:"turns,omitempty"`
}

// TableName returns the database table name
func (Conversation) TableName() string {
	return "conversations"
}

// Turn is one single-speaker utterance
type Turn struct {
	ConversationID uuid.UUID `db:"conversation_id" json:"-"`
	RoundNumber    int       `db:"round_number" json:"round_number"`
	Speaker        Speaker   `db:"speaker" json:"speaker"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
