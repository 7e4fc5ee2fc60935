package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type fakeModels struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	model    string
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestGeminiGenerate(t *testing.T) {
	models := &fakeModels{resp: textResponse("  hello ", "there")}
	g := newGemini(models, "", zap.NewNop())

	out, err := g.Generate(context.Background(), Request{
		Purpose:           "round",
		SystemInstruction: "be brief",
		Messages: []Message{
			{Role: RoleUser, Text: "hi"},
			{Role: RoleModel, Text: "hey"},
			{Role: RoleUser, Text: "how are you"},
		},
		Temperature:     0.9,
		MaxOutputTokens: 120,
		JSON:            true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\nthere", out)

	assert.Equal(t, defaultModel, models.model)
	require.Len(t, models.contents, 3)
	assert.Equal(t, genai.RoleModel, models.contents[1].Role)
	require.NotNil(t, models.config.SystemInstruction)
	assert.Equal(t, "be brief", models.config.SystemInstruction.Parts[0].Text)
	assert.Equal(t, float32(0.9), *models.config.Temperature)
	assert.Equal(t, int32(120), models.config.MaxOutputTokens)
	assert.Equal(t, "application/json", models.config.ResponseMIMEType)
}

func TestGeminiGenerateEmpty(t *testing.T) {
	g := newGemini(&fakeModels{resp: textResponse("   ")}, "gemini-pro", zap.NewNop())

	_, err := g.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "x"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiGenerateError(t *testing.T) {
	quota := genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	g := newGemini(&fakeModels{err: quota}, "gemini-pro", zap.NewNop())

	_, err := g.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Text: "x"}}})
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
}

func TestGeminiRequiresMessages(t *testing.T) {
	g := newGemini(&fakeModels{}, "gemini-pro", zap.NewNop())
	_, err := g.Generate(context.Background(), Request{})
	assert.Error(t, err)
}

func TestIsRateLimit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "429", err: genai.APIError{Code: http.StatusTooManyRequests}, want: true},
		{name: "resource exhausted", err: fmt.Errorf("call: %w", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}), want: true},
		{name: "pointer", err: &genai.APIError{Code: http.StatusTooManyRequests}, want: true},
		{name: "text", err: errors.New("upstream Rate Limit reached"), want: true},
		{name: "server error", err: genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}, want: false},
		{name: "plain", err: errors.New("timeout"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimit(tt.err))
		})
	}
}
