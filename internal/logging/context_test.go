package logging_test

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/stretchr/testify/require"
)

type jsonWriter struct {
	t     *testing.T
	lines []string
}

func newWriter(t *testing.T) *jsonWriter {
	return &jsonWriter{t: t}
}

func (w *jsonWriter) Write(p []byte) (int, error) {
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

// PopWithoutTime returns the last record written, without its timestamp
func (w *jsonWriter) PopWithoutTime() (map[string]any, bool) {
	w.t.Helper()
	if len(w.lines) == 0 {
		return nil, false
	}

	last := w.lines[len(w.lines)-1]
	w.lines = w.lines[:len(w.lines)-1]

	var record map[string]any
	require.NoError(w.t, json.Unmarshal([]byte(last), &record))

	rawTime, ok := record["time"].(string)
	require.True(w.t, ok, "record has no time: %s", last)
	recordTime, err := time.Parse(time.RFC3339, rawTime)
	require.NoError(w.t, err)
	require.WithinDuration(w.t, time.Now(), recordTime, 5*time.Second)
	delete(record, "time")

	return record, true
}

func (w *jsonWriter) RequireEmpty() {
	w.t.Helper()
	require.Empty(w.t, w.lines)
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	t.Run("request logger", func(t *testing.T) {
		t.Parallel()

		logger := slog.New(slog.NewJSONHandler(newWriter(t), nil))
		ctx := logging.AddToContext(t.Context(), logger)

		require.Same(t, logger, logging.FromContext(ctx))
	})

	t.Run("fallback without a request logger", func(t *testing.T) {
		t.Parallel()

		logger := logging.FromContext(t.Context())
		require.NotNil(t, logger)
		require.Same(t, logger, logging.FromContext(t.Context()))
	})

	t.Run("nil logger falls back", func(t *testing.T) {
		t.Parallel()

		ctx := logging.AddToContext(t.Context(), nil)
		require.NotNil(t, logging.FromContext(ctx))
	})
}

func TestAddMetaToContext(t *testing.T) {
	t.Parallel()

	t.Run("request meta accumulates", func(t *testing.T) {
		t.Parallel()

		w := newWriter(t)
		rootLogger := slog.New(slog.NewJSONHandler(w, nil)).With(slog.String("port", "messages"))
		requestCtx := logging.AddToContext(t.Context(), rootLogger)

		userCtx := logging.AddMetaToContext(requestCtx, slog.String("userId", "user-1"))
		sessionCtx := logging.AddMetaToContext(userCtx,
			slog.String("sessionId", "00000000-0000-4000-8000-000000000001"),
			slog.Int("count", 2),
		)

		logging.FromContext(sessionCtx).InfoContext(sessionCtx, "Saved messages")
		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level":     "INFO",
			"msg":       "Saved messages",
			"port":      "messages",
			"userId":    "user-1",
			"sessionId": "00000000-0000-4000-8000-000000000001",
			"count":     float64(2),
		}, entry)

		// The parents keep their own meta
		logging.FromContext(userCtx).InfoContext(userCtx, "Listed sessions")
		entry, ok = w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level":  "INFO",
			"msg":    "Listed sessions",
			"port":   "messages",
			"userId": "user-1",
		}, entry)

		w.RequireEmpty()
	})

	t.Run("later meta wins", func(t *testing.T) {
		t.Parallel()

		w := newWriter(t)
		ctx := logging.AddToContext(t.Context(), slog.New(slog.NewJSONHandler(w, nil)))

		ctx = logging.AddMetaToContext(ctx, slog.String("model", "default"))
		ctx = logging.AddMetaToContext(ctx, slog.String("model", "google/gemini-2.0-flash-exp:free"), slog.Bool("stream", true))

		logging.FromContext(ctx).InfoContext(ctx, "Streamed completion")
		entry, ok := w.PopWithoutTime()
		require.True(t, ok)
		require.Equal(t, map[string]any{
			"level":  "INFO",
			"msg":    "Streamed completion",
			"model":  "google/gemini-2.0-flash-exp:free",
			"stream": true,
		}, entry)
	})

	t.Run("no meta keeps the context", func(t *testing.T) {
		t.Parallel()

		ctx := logging.AddToContext(t.Context(), slog.New(slog.NewJSONHandler(newWriter(t), nil)))

		require.Equal(t, ctx, logging.AddMetaToContext(ctx))
	})

	t.Run("meta without a request logger", func(t *testing.T) {
		t.Parallel()

		ctx := logging.AddMetaToContext(t.Context(), slog.String("userId", "user-1"))

		require.NotSame(t, logging.FromContext(t.Context()), logging.FromContext(ctx))
	})
}
