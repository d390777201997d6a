package ports

import (
	"net/http"

	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/ratelimiting"
	"github.com/Amund211/chatrelay/internal/reporting"
)

func NewRateLimitMiddleware(rateLimiter ratelimiting.RequestRateLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !rateLimiter.Consume(r) {
				onLimitExceeded(w, r)
				return
			}

			next(w, r)
		}
	}
}

// NewRequireUserIDMiddleware rejects requests without an acting user and tags
// error reports with the user for the rest
//
// NOTE: The user id is trusted as sent
func NewRequireUserIDMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID := userIDFromRequest(r)
			if userID == "" {
				statusCode := http.StatusBadRequest
				logging.FromContext(ctx).InfoContext(ctx, "Missing user id", "statusCode", statusCode)
				http.Error(w, "Missing X-User-Id header", statusCode)
				return
			}

			ctx = reporting.SetUserIDInContext(ctx, userID)
			next(w, r.WithContext(ctx))
		}
	}
}

func userIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	if len(middlewares) == 1 {
		return middlewares[0]
	}
	first := middlewares[0]
	rest := ComposeMiddlewares(middlewares[1:]...)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return first(rest(h))
	}
}
