package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("returns logger from context when present", func(t *testing.T) {
		expected := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expected)

		assert.Equal(t, expected, FromContext(ctx))
	})

	t.Run("returns default logger when none present", func(t *testing.T) {
		require.NotNil(t, FromContext(t.Context()))
	})
}

func TestLogLevelToCharmlogLevel(t *testing.T) {
	cases := []struct {
		level    LogLevel
		expected int
	}{
		{DebugLevel, -4},
		{InfoLevel, 0},
		{WarnLevel, 4},
		{ErrorLevel, 8},
		{DisabledLevel, 1000},
		{LogLevel("unknown"), 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, int(tc.level.ToCharmlogLevel()), "level %s", tc.level)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})
	l.Info("hello", "k", "v")
	out := buf.String()
	assert.True(t, strings.Contains(out, "{") && strings.Contains(out, "}"))
	assert.Contains(t, out, "hello")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&Config{Level: InfoLevel, Output: &buf})
	base.With("component", "engine").Info("ready")
	assert.Contains(t, buf.String(), "component")
	assert.Contains(t, buf.String(), "ready")
}
