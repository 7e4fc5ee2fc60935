package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/database"
)

// Phase is the evidence source a feature score came from
type Phase string

const (
	PhaseProfile      Phase = "profile"
	PhaseSpeedDate    Phase = "speed_date"
	PhaseConversation Phase = "conversation"
)

// Rank orders phases by the point in the pipeline where they produce evidence.
func (p Phase) Rank() int {
	switch p {
	case PhaseProfile:
		return 1
	case PhaseSpeedDate:
		return 2
	case PhaseConversation:
		return 3
	default:
		return 0
	}
}

// Evidence is the opaque explanation stored with a score
type Evidence map[string]any

// FeatureScore is one phase's score for one feature of one match
type FeatureScore struct {
	MatchID         uuid.UUID                `db:"match_id" json:"match_id"`
	FeatureID       int                      `db:"feature_id" json:"feature_id"`
	RawScore        float64                  `db:"raw_score" json:"raw_score"`
	NormalizedScore float64                  `db:"normalized_score" json:"normalized_score"`
	Confidence      float64                  `db:"confidence" json:"confidence"`
	Evidence        database.JSONB[Evidence] `db:"evidence" json:"evidence"`
	SourcePhase     Phase                    `db:"source_phase" json:"source_phase"`
	CreatedAt       time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (FeatureScore) TableName() string {
	return "feature_scores"
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
