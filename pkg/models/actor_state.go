package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationActorState is everything the orchestrator needs to resume a conversation
// after a restart. Only the orchestrator writes it.
type ConversationActorState struct {
	ConversationID uuid.UUID          `json:"conversation_id"`
	MatchID        uuid.UUID          `json:"match_id"`
	PersonaA       ActorPersona       `json:"persona_a"`
	PersonaB       ActorPersona       `json:"persona_b"`
	Language       string             `json:"language"`
	History        []Turn             `json:"history"`
	RetryCount     int                `json:"retry_count"`
	Status         ConversationStatus `json:"status"`
	TotalRounds    int                `json:"total_rounds"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ActorPersona is a persona as the actor uses it
type ActorPersona struct {
	UserID            uuid.UUID `json:"user_id"`
	DisplayName       string    `json:"display_name"`
	SystemInstruction string    `json:"system_instruction"`
}

// Persona returns the persona speaking as s.
func (s *ConversationActorState) Persona(speaker Speaker) ActorPersona {
	if speaker == SpeakerA {
		return s.PersonaA
	}
	return s.PersonaB
}
