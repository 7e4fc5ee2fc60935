package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
)

// MatchStatus is the forward-only lifecycle of a match
type MatchStatus string

const (
	MatchStatusPending                MatchStatus = "pending"
	MatchStatusConversationPending    MatchStatus = "conversation_pending"
	MatchStatusConversationInProgress MatchStatus = "conversation_in_progress"
	MatchStatusCompleted              MatchStatus = "completed"
	MatchStatusFailed                 MatchStatus = "failed"
)

var matchStatusRank = map[MatchStatus]int{
	MatchStatusPending:                0,
	MatchStatusConversationPending:    1,
	MatchStatusConversationInProgress: 2,
	MatchStatusCompleted:              3,
	MatchStatusFailed:                 3,
}

// IsTerminal reports whether no further forward transition exists.
func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle forward-only.
// Terminal states only move through Reset.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	if s.IsTerminal() {
		return false
	}
	from, ok := matchStatusRank[s]
	if !ok {
		return false
	}
	to, ok := matchStatusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// LayerScores is the persisted breakdown of a match's final score
type LayerScores struct {
	Layer1     float64         `json:"layer1"`
	Layer2     float64         `json:"layer2"`
	Layer3     float64         `json:"layer3"`
	PerFeature map[int]float64 `json:"per_feature,omitempty"`
	// Dealbreakers lists the reasons the final score was forced to zero
	Dealbreakers []string `json:"dealbreakers,omitempty"`
	// Fallback is set when the final score came from the blended formula
	Fallback bool `json:"fallback,omitempty"`
}

// Match is an ordered pair of users (UserA < UserB) and its scores
type Match struct {
	ID                uuid.UUID                    `db:"id" json:"id"`
	UserA             uuid.UUID                    `db:"user_a" json:"user_a"`
	UserB             uuid.UUID                    `db:"user_b" json:"user_b"`
	ProfileScore      *float64                     `db:"profile_score" json:"profile_score,omitempty"`
	ConversationScore *float64                     `db:"conversation_score" json:"conversation_score,omitempty"`
	FinalScore        *int                         `db:"final_score" json:"final_score,omitempty"`
	LayerScores       database.JSONB[*LayerScores] `db:"layer_scores" json:"layer_scores,omitempty"`
	Status            MatchStatus                  `db:"status" json:"status"`
	CreatedAt         time.Time                    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                    `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Match) TableName() string {
	return "matches"
}

// HasUser reports whether userID is one side of the match.
func (m *Match) HasUser(userID uuid.UUID) bool {
	return m.UserA == userID || m.UserB == userID
}

// OrderPair returns a and b in the canonical UserA < UserB order.
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

// MatchScoreUpdate carries the scoring fields written together with the computation
// that produced them. Nil pointers leave the column untouched.
type MatchScoreUpdate struct {
	ProfileScore      *float64
	ConversationScore *float64
	FinalScore        int
	LayerScores       *LayerScores
}
