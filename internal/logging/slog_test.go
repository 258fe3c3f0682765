package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger(t *testing.T) {
	t.Run("writes structured fields", func(t *testing.T) {
		var buf bytes.Buffer
		handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger := NewSlog(slog.New(handler))

		logger.Debug("debug message", "key", "value")
		logger.Info("info message", "count", 3)
		logger.Warn("warn message")
		logger.Error("error message", "err", "boom")

		out := buf.String()
		require.Contains(t, out, "debug message")
		require.Contains(t, out, "key=value")
		require.Contains(t, out, "info message")
		require.Contains(t, out, "count=3")
		require.Contains(t, out, "warn message")
		require.Contains(t, out, "err=boom")
	})

	t.Run("respects handler level", func(t *testing.T) {
		var buf bytes.Buffer
		handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
		logger := NewSlog(slog.New(handler))

		logger.Debug("hidden")
		logger.Info("also hidden")
		logger.Warn("visible")

		out := buf.String()
		require.NotContains(t, out, "hidden")
		require.Contains(t, out, "visible")
	})

	t.Run("default constructor returns usable logger", func(t *testing.T) {
		logger := NewSlogDefault()
		require.NotNil(t, logger)
	})
}
