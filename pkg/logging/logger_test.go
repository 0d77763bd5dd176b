package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := Logger()
	prevLevel := zerolog.GlobalLevel()
	Init(Config{Level: "debug", Format: "json", Output: buf})
	t.Cleanup(func() {
		SetLogger(prev)
		zerolog.SetGlobalLevel(prevLevel)
	})
	return buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestCtx_AddsIDs(t *testing.T) {
	buf := captureLogs(t)

	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	ctx = ContextWithJobID(ctx, "job-1")
	Ctx(ctx).Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-1", entry["correlation_id"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "hello", entry["message"])
}

func TestContextWithCorrelationID_Generates(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "")
	assert.NotEmpty(t, CorrelationID(ctx))
	assert.Empty(t, JobID(ctx))
}

func TestSlogLogger(t *testing.T) {
	buf := captureLogs(t)

	NewSlogLogger().With("service", "api").Warn("restarting", "attempt", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "api", entry["service"])
	assert.EqualValues(t, 2, entry["attempt"])
}
