package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/wingfox/pkg/database"
)

// Personality holds the three personality axes, each in [0,1]
type Personality struct {
	Openness      float64 `json:"openness"`
	Extraversion  float64 `json:"extraversion"`
	Agreeableness float64 `json:"agreeableness"`
}

// QuizAnswers are the structured answers of the onboarding quiz
type QuizAnswers struct {
	SelfDisclosure    float64  `json:"self_disclosure"`
	ConflictStyle     string   `json:"conflict_style"`
	Values            []string `json:"values"`
	LifeGoals         []string `json:"life_goals"`
	GrowthOrientation float64  `json:"growth_orientation"`
}

// InteractionStyle is derived from how a user behaves in app chats
type InteractionStyle struct {
	ActiveHours        []int   `json:"active_hours"`
	InitiationRate     float64 `json:"initiation_rate"`
	AvgResponseMinutes float64 `json:"avg_response_minutes"`
	AvgMessageLength   float64 `json:"avg_message_length"`
	EmotionWordRate    float64 `json:"emotion_word_rate"`
}

// Profile is the scoring input for one user
type Profile struct {
	UserID           uuid.UUID                         `db:"user_id" json:"user_id"`
	Gender           string                            `db:"gender" json:"gender"`
	Seeking          pq.StringArray                    `db:"seeking" json:"seeking"`
	Personality      database.JSONB[Personality]       `db:"personality" json:"personality"`
	Quiz             database.JSONB[*QuizAnswers]      `db:"quiz" json:"quiz,omitempty"`
	InteractionStyle database.JSONB[*InteractionStyle] `db:"interaction_style" json:"interaction_style,omitempty"`
	Active           bool                              `db:"active" json:"active"`
	UpdatedAt        time.Time                         `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Profile) TableName() string {
	return "profiles"
}

// Seeks reports whether the profile is looking for the given gender.
func (p *Profile) Seeks(gender string) bool {
	for _, g := range p.Seeking {
		if g == gender || g == "any" {
			return true
		}
	}
	return false
}

// PersonaType distinguishes the compiled documents kept per user
type PersonaType string

const (
	PersonaTypeWingfox PersonaType = "wingfox"
)

// Persona is the compiled character description driving one side of a conversation
type Persona struct {
	UserID           uuid.UUID   `db:"user_id" json:"user_id"`
	PersonaType      PersonaType `db:"persona_type" json:"persona_type"`
	DisplayName      string      `db:"display_name" json:"display_name"`
	CompiledDocument string      `db:"compiled_document" json:"compiled_document"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Persona) TableName() string {
	return "personas"
}

// Block records that Blocker does not want to be matched with Blocked
type Block struct {
	BlockerID uuid.UUID `db:"blocker_id" json:"blocker_id"`
	BlockedID uuid.UUID `db:"blocked_id" json:"blocked_id"`
}
