package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/chatrelay/internal/logging"
)

type activeSessionData struct {
	// Empty when no session is active
	ActiveSessionID string `json:"activeSessionId"`
}

func MakeGetActiveSessionHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("active-session", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		sessionID, err := service.GetActiveSessionID(ctx, userID)
		if err != nil {
			writeError(ctx, w, err, "Failed to get active session")
			return
		}

		writeJSON(ctx, w, http.StatusOK, activeSessionData{ActiveSessionID: sessionID})
	}

	return middleware(handler)
}

func MakeSetActiveSessionHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("set-active-session", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := userIDFromRequest(r)

		request := activeSessionData{}
		if !decodeBody(ctx, w, r, &request) {
			return
		}
		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", request.ActiveSessionID))

		err := service.SetActiveSessionID(ctx, userID, request.ActiveSessionID)
		if err != nil {
			writeError(ctx, w, err, "Failed to set active session")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Set active session")
		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}
