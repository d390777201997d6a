package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/reporting"
)

// eventStream writes server-sent events. Headers are sent with the first event
// so a request that fails before any output still gets a plain error status.
type eventStream struct {
	w          http.ResponseWriter
	controller *http.ResponseController
	started    bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	return &eventStream{w: w, controller: http.NewResponseController(w)}
}

func (s *eventStream) send(event string, data []byte) error {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	frame := make([]byte, 0, len(data)+32)
	if event != "" {
		frame = fmt.Appendf(frame, "event: %s\n", event)
	}
	frame = fmt.Appendf(frame, "data: %s\n\n", data)

	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.controller.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

func (s *eventStream) sendJSON(event string, data any) error {
	marshalled, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.send(event, marshalled)
}

func MakeCompletionsHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("completions", completionRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		request := completionRequestData{}
		if !decodeBody(ctx, w, r, &request) {
			return
		}

		ctx = reporting.AddExtrasToContext(ctx, map[string]string{
			"model":    request.Model,
			"messages": strconv.Itoa(len(request.Messages)),
			"stream":   strconv.FormatBool(request.Stream),
		})
		ctx = logging.AddMetaToContext(ctx,
			slog.String("model", request.Model),
			slog.Bool("stream", request.Stream),
		)

		if request.Stream {
			streamCompletion(ctx, w, service, userID, request)
			return
		}

		completion, err := service.Complete(ctx, userID, request.toDomain())
		if err != nil {
			writeError(ctx, w, err, "Failed to get completion")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Returning completion", "cached", completion.Cached)

		writeJSON(ctx, w, http.StatusOK, completionToResponse(completion))
	}

	return middleware(handler)
}

func streamCompletion(ctx context.Context, w http.ResponseWriter, service AccessService, userID string, request completionRequestData) {
	logger := logging.FromContext(ctx)
	stream := newEventStream(w)

	completion, err := service.StreamCompletion(ctx, userID, request.toDomain(), func(delta string) error {
		return stream.sendJSON("", struct {
			Delta string `json:"delta"`
		}{Delta: delta})
	})
	if err != nil {
		if !stream.started {
			writeError(ctx, w, err, "Failed to stream completion")
			return
		}

		logger.WarnContext(ctx, "Completion stream ended early", "error", err.Error())
		// The client may be gone, so failing to tell it is fine
		_ = stream.sendJSON("error", struct {
			Error      string `json:"error"`
			StatusCode int    `json:"statusCode"`
		}{Error: "Completion stream failed", StatusCode: statusCodeFor(err)})
		return
	}

	if err := stream.sendJSON("", struct {
		Completion completionResponse `json:"completion"`
	}{Completion: completionToResponse(completion)}); err != nil {
		logger.InfoContext(ctx, "Failed to send final completion event", "error", err.Error())
		return
	}
	if err := stream.send("", []byte("[DONE]")); err != nil {
		logger.InfoContext(ctx, "Failed to send end of stream", "error", err.Error())
		return
	}

	logger.InfoContext(ctx, "Streamed completion", "cached", completion.Cached)
}
