package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
)

func TestNewParsesLevel(t *testing.T) {
	l, err := New("debug", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New("nonsense", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be disabled for unknown level")
	}
	if !l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be enabled")
	}
}

func TestTruncateForLog(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"こんにちは世界", 5, "こんにちは..."},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncateForLog(tc.in, tc.limit); got != tc.want {
			t.Fatalf("TruncateForLog(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestNewEctoAddsContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewEcto(zap.New(core))

	ctx := appctx.SetRequestID(context.Background(), "req-1")
	ctx = appctx.SetConversationID(ctx, "conv-1")

	log.WithContext(ctx).WithError(errors.New("boom")).WithFields(map[string]any{
		"conversation_id": "explicit",
		"match_id":        "m-1",
	}).Error("failed to save")
	log.Debugf("Listed %d rows", 3)

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, zapcore.ErrorLevel, first.Level)
	assert.Equal(t, "failed to save", first.Message)
	fields := first.ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "explicit", fields["conversation_id"])
	assert.Equal(t, "m-1", fields["match_id"])
	assert.Equal(t, "boom", fields["error"])

	second := entries[1]
	assert.Equal(t, zapcore.DebugLevel, second.Level)
	assert.Equal(t, "Listed 3 rows", second.Message)
	assert.NotContains(t, second.ContextMap(), "request_id")
}
