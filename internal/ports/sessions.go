package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/reporting"
)

func MakeListSessionsHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("sessions", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		sessions, err := service.ListSessions(ctx, userID)
		if err != nil {
			writeError(ctx, w, err, "Failed to list sessions")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Returning sessions", "count", len(sessions))

		writeJSON(ctx, w, http.StatusOK, struct {
			Sessions []sessionResponse `json:"sessions"`
		}{Sessions: sessionsToResponse(sessions)})
	}

	return middleware(handler)
}

func MakeCreateSessionHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("create-session", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		request := struct {
			FirstMessage string `json:"firstMessage"`
		}{}
		if !decodeBody(ctx, w, r, &request) {
			return
		}

		created, err := service.CreateSession(ctx, userID, request.FirstMessage)
		if err != nil {
			writeError(ctx, w, err, "Failed to create session")
			return
		}

		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", created.Session.ID))
		logging.FromContext(ctx).InfoContext(ctx, "Created session")

		writeJSON(ctx, w, http.StatusCreated, struct {
			Session sessionResponse `json:"session"`
			URL     string          `json:"url"`
		}{
			Session: sessionToResponse(created.Session),
			URL:     created.URL,
		})
	}

	return middleware(handler)
}

func MakeRenameSessionHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("rename-session", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		sessionID := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", sessionID))
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"sessionId": sessionID})

		request := struct {
			Title string `json:"title"`
		}{}
		if !decodeBody(ctx, w, r, &request) {
			return
		}

		err := service.RenameSession(ctx, userID, sessionID, request.Title)
		if err != nil {
			writeError(ctx, w, err, "Failed to rename session")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Renamed session")
		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}

func MakeDeleteSessionHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("delete-session", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		sessionID := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", sessionID))
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"sessionId": sessionID})

		err := service.DeleteSession(ctx, userID, sessionID)
		if err != nil {
			writeError(ctx, w, err, "Failed to delete session")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Deleted session")
		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}
