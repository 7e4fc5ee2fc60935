// Package llm wraps the chat-completion provider used for persona dialogue and assessments.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the provider produced no text
var ErrEmptyResponse = errors.New("llm returned empty response")

// Role of a message in the request history
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the prompt history
type Message struct {
	Role Role
	Text string
}

// Request is a single chat-completion call
type Request struct {
	// Purpose labels the call in metrics and logs, e.g. "round" or "assessment"
	Purpose           string
	SystemInstruction string
	Messages          []Message
	Temperature       float32
	MaxOutputTokens   int32
	// JSON asks the provider for a strict application/json response
	JSON bool
}

// Client generates text for a request
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// IsRateLimit reports whether err signals that the provider is throttling us
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && isRateLimitAPIError(apiErr) {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && isRateLimitAPIError(*apiErrPtr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "too many requests")
}

func isRateLimitAPIError(err genai.APIError) bool {
	return err.Code == http.StatusTooManyRequests || strings.EqualFold(err.Status, "RESOURCE_EXHAUSTED")
}
