package ports

import (
	"log/slog"
	"net/http"
)

func MakeCacheStatsHandler(
	service AccessService,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("cache-stats", defaultRateLimits, allowedOrigins, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		writeJSON(ctx, w, http.StatusOK, statsToResponse(service.Stats()))
	}

	return middleware(handler)
}
