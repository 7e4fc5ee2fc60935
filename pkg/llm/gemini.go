package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

const defaultModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini is a Client backed by the Gemini API
type Gemini struct {
	models contentGenerator
	model  string
	logger *zap.Logger
}

// NewGemini creates a Gemini client for the Gemini API backend
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGemini(client.Models, model, logger), nil
}

func newGemini(models contentGenerator, model string, logger *zap.Logger) *Gemini {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Gemini{models: models, model: model, logger: logger}
}

// Model returns the configured model name
func (g *Gemini) Model() string {
	return g.model
}

// Generate sends the request and returns the concatenated text of the first candidate
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.Gemini.Generate")
	defer span.End()

	if len(req.Messages) == 0 {
		return "", errors.New("request has no messages")
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = "generic"
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		result := "error"
		if IsRateLimit(err) {
			result = "rate_limited"
		}
		metrics.RecordLLMCall(purpose, result, elapsed)
		tracing.RecordError(span, err)
		g.logger.Warn("gemini generate content failed",
			zap.String("purpose", purpose),
			zap.String("model", g.model),
			zap.Error(err))
		return "", fmt.Errorf("generate content: %w", err)
	}

	output := responseText(resp)
	if output == "" {
		metrics.RecordLLMCall(purpose, "empty", elapsed)
		return "", ErrEmptyResponse
	}

	metrics.RecordLLMCall(purpose, "success", elapsed)
	g.logger.Debug("gemini generate content response",
		zap.String("purpose", purpose),
		zap.Int("response_length", len(output)),
		zap.Float64("duration_seconds", elapsed))
	return output, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		// only the first usable candidate is read
		if builder.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(builder.String())
}
