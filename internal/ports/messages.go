package ports

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/reporting"
)

func MakeListMessagesHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("messages", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		sessionID := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", sessionID))
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"sessionId": sessionID})

		messages, err := service.ListMessages(ctx, userID, sessionID)
		if err != nil {
			writeError(ctx, w, err, "Failed to list messages")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Returning messages", "count", len(messages))

		writeJSON(ctx, w, http.StatusOK, struct {
			Messages []messageData `json:"messages"`
		}{Messages: messagesToResponse(messages)})
	}

	return middleware(handler)
}

func MakeSaveMessagesHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("save-messages", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		sessionID := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", sessionID))

		request := struct {
			Messages []messageData `json:"messages"`
		}{}
		if !decodeBody(ctx, w, r, &request) {
			return
		}

		ctx = reporting.AddExtrasToContext(ctx, map[string]string{
			"sessionId": sessionID,
			"count":     strconv.Itoa(len(request.Messages)),
		})

		err := service.SaveMessages(ctx, userID, sessionID, messagesFromRequest(request.Messages))
		if err != nil {
			writeError(ctx, w, err, "Failed to save messages")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Saved messages", "count", len(request.Messages))
		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}
