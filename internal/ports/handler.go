package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Amund211/chatrelay/internal/app"
	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/ratelimiting"
	"github.com/Amund211/chatrelay/internal/reporting"
)

const maxRequestBodySize = 1 << 20

type AccessService interface {
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)
	CreateSession(ctx context.Context, userID string, firstMessage string) (domain.CreatedSession, error)
	RenameSession(ctx context.Context, userID string, sessionID string, title string) error
	DeleteSession(ctx context.Context, userID string, sessionID string) error
	ListMessages(ctx context.Context, userID string, sessionID string) ([]domain.Message, error)
	SaveMessages(ctx context.Context, userID string, sessionID string, messages []domain.Message) error
	GetActiveSessionID(ctx context.Context, userID string) (string, error)
	SetActiveSessionID(ctx context.Context, userID string, sessionID string) error
	Complete(ctx context.Context, userID string, request domain.CompletionRequest) (domain.Completion, error)
	StreamCompletion(ctx context.Context, userID string, request domain.CompletionRequest, onDelta func(delta string) error) (domain.Completion, error)
	Stats() app.Stats
}

type rateLimits struct {
	ipRefill     ratelimiting.RefillPerSecond
	ipBurst      ratelimiting.BurstSize
	userIDRefill ratelimiting.RefillPerSecond
	userIDBurst  ratelimiting.BurstSize
}

var defaultRateLimits = rateLimits{
	ipRefill:     4,
	ipBurst:      80,
	userIDRefill: 2,
	userIDBurst:  40,
}

// Completions cost money upstream
var completionRateLimits = rateLimits{
	ipRefill:     1,
	ipBurst:      20,
	userIDRefill: 0.5,
	userIDBurst:  10,
}

func buildHandlerMiddleware(
	route string,
	limits rateLimits,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) func(http.HandlerFunc) http.HandlerFunc {
	ipLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(limits.ipRefill, limits.ipBurst)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		ipLimiter,
		ratelimiting.IPKeyFunc,
	)
	userIDLimiter, _ := ratelimiting.NewTokenBucketRateLimiter(limits.userIDRefill, limits.userIDBurst)
	userIDRateLimiter := ratelimiting.NewRequestBasedRateLimiter(
		// NOTE: Rate limiting based on user controlled value
		userIDLimiter,
		ratelimiting.UserIDKeyFunc,
	)

	makeOnLimitExceeded := func(rateLimiter ratelimiting.RequestRateLimiter) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := logging.FromContext(ctx)

			statusCode := http.StatusTooManyRequests

			logger.InfoContext(ctx, "Rate limit exceeded", "statusCode", statusCode, "reason", "ratelimit exceeded", "key", rateLimiter.KeyFor(r))

			http.Error(w, "Rate limit exceeded", statusCode)
		}
	}

	return ComposeMiddlewares(
		buildMetricsMiddleware(),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware(route),
		BuildCORSMiddleware(allowedOrigins),
		NewRequireUserIDMiddleware(),
		NewRateLimitMiddleware(ipRateLimiter, makeOnLimitExceeded(ipRateLimiter)),
		NewRateLimitMiddleware(userIDRateLimiter, makeOnLimitExceeded(userIDRateLimiter)),
	)
}

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := decoder.Decode(target); err != nil {
		logging.FromContext(ctx).InfoContext(ctx, "Failed to parse request body", "error", err.Error())
		http.Error(w, "Failed to parse request body", http.StatusBadRequest)
		return false
	}
	return true
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTemporarilyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the status matching err.
//
// NOTE: Errors from the access service are reported where they are produced
func writeError(ctx context.Context, w http.ResponseWriter, err error, message string) {
	statusCode := statusCodeFor(err)

	logger := logging.FromContext(ctx)
	if statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, message, "statusCode", statusCode, "error", err.Error())
	} else {
		logger.InfoContext(ctx, message, "statusCode", statusCode, "error", err.Error())
	}

	switch statusCode {
	case http.StatusBadRequest:
		message = fmt.Sprintf("%s: %s", message, err.Error())
	case http.StatusNotFound:
		message = "Session not found"
	case http.StatusServiceUnavailable:
		message = "Temporarily unavailable, try again later"
	}

	http.Error(w, message, statusCode)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, data any) {
	marshalled, err := json.Marshal(data)
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(marshalled)
}
