package logging

import (
	"context"
	"log/slog"
	"os"
)

type requestLoggerContextKey struct{}

var fallbackLogger = slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("logger", "fallback"))

// FromContext returns the request scoped logger, or a fallback that marks its
// records so missing wiring shows up in the logs
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(requestLoggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return fallbackLogger
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, attrs ...slog.Attr) context.Context {
	logger := FromContext(ctx)
	if len(attrs) == 0 {
		return ctx
	}
	return AddToContext(ctx, slog.New(logger.Handler().WithAttrs(attrs)))
}
