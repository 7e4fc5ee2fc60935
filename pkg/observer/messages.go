package observer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Ramsey-B/wingfox/pkg/models"
)

// ErrUnknownMessage is returned for a message whose type is not part of the protocol
var ErrUnknownMessage = errors.New("unknown message type")

// Message types on the wire
const (
	TypeAuth         = "auth"
	TypePing         = "ping"
	TypeState        = "state"
	TypeRoundMessage = "round_message"
	TypeCompleted    = "completed"
	TypeError        = "error"
	TypePong         = "pong"
)

// ClientMessage is a message sent by an observer. The variants are AuthMessage and PingMessage.
type ClientMessage interface {
	clientMessage()
}

// AuthMessage presents a credential for the connection
type AuthMessage struct {
	Token string `json:"token"`
}

// PingMessage is a heartbeat
type PingMessage struct{}

func (AuthMessage) clientMessage() {}
func (PingMessage) clientMessage() {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a client frame
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}

	switch env.Type {
	case TypeAuth:
		var msg AuthMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode auth message: %w", err)
		}
		return msg, nil
	case TypePing:
		return PingMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// ServerMessage is a message pushed to observers. The variants are StateMessage,
// RoundMessage, CompletedMessage, ErrorMessage and PongMessage.
type ServerMessage interface {
	MessageType() string
}

// TurnView is one turn as observers see it
type TurnView struct {
	RoundNumber int            `json:"round_number"`
	Speaker     models.Speaker `json:"speaker"`
	Content     string         `json:"content"`
}

// StateMessage is the catch-up snapshot sent after authentication
type StateMessage struct {
	Status       models.ConversationStatus `json:"status"`
	CurrentRound int                       `json:"current_round"`
	TotalRounds  int                       `json:"total_rounds"`
	Messages     []TurnView                `json:"messages"`
}

// RoundMessage announces a newly persisted turn
type RoundMessage TurnView

// Scores are the headline numbers of a completed conversation
type Scores struct {
	ConversationScore float64 `json:"conversation_score"`
	FinalScore        int     `json:"final_score"`
}

// CompletedMessage announces the end of a conversation
type CompletedMessage struct {
	Scores   Scores `json:"scores"`
	Analysis any    `json:"analysis"`
}

// ErrorMessage carries a user-safe failure description
type ErrorMessage struct {
	Message string `json:"message"`
}

// PongMessage answers a ping
type PongMessage struct{}

func (StateMessage) MessageType() string     { return TypeState }
func (RoundMessage) MessageType() string     { return TypeRoundMessage }
func (CompletedMessage) MessageType() string { return TypeCompleted }
func (ErrorMessage) MessageType() string     { return TypeError }
func (PongMessage) MessageType() string      { return TypePong }

// NewStateMessage builds a snapshot from a conversation and its turns
func NewStateMessage(conversation *models.Conversation, turns []models.Turn) StateMessage {
	views := make([]TurnView, 0, len(turns))
	for _, turn := range turns {
		views = append(views, TurnView{RoundNumber: turn.RoundNumber, Speaker: turn.Speaker, Content: turn.Content})
	}
	return StateMessage{
		Status:       conversation.Status,
		CurrentRound: conversation.CurrentRound,
		TotalRounds:  conversation.TotalRounds,
		Messages:     views,
	}
}

// EncodeServerMessage renders msg with its type tag
func EncodeServerMessage(msg ServerMessage) ([]byte, error) {
	switch m := msg.(type) {
	case StateMessage:
		if m.Messages == nil {
			m.Messages = []TurnView{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			StateMessage
		}{TypeState, m})
	case RoundMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			TurnView
		}{TypeRoundMessage, TurnView(m)})
	case CompletedMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			CompletedMessage
		}{TypeCompleted, m})
	case ErrorMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			ErrorMessage
		}{TypeError, m})
	case PongMessage:
		return json.Marshal(envelope{Type: TypePong})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// DecodeServerMessage parses a tagged server message
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}

	var (
		msg ServerMessage
		err error
	)
	switch env.Type {
	case TypeState:
		var m StateMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeRoundMessage:
		var m TurnView
		err = json.Unmarshal(data, &m)
		msg = RoundMessage(m)
	case TypeCompleted:
		var m CompletedMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeError:
		var m ErrorMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TypePong:
		msg = PongMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s message: %w", env.Type, err)
	}
	return msg, nil
}
