package logging

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	cloudLoggingSeverityKey     = "severity"
	cloudLoggingTraceKey        = "logging.googleapis.com/trace"
	cloudLoggingSpanKey         = "logging.googleapis.com/spanId"
	cloudLoggingTraceSampledKey = "logging.googleapis.com/trace_sampled"
)

// NewGoogleCloudLogHandler shapes records for Cloud Logging.
//
// Every record gets a severity. Records logged with an active span are tied
// to its trace, so the logs of one request show up together. The trace fields
// need the project and are left out when it is empty.
// https://docs.cloud.google.com/logging/docs/agent/logging/configuration#special-fields
//
// NOTE: Requires the use of the *Context slog methods to get the tracing info
func NewGoogleCloudLogHandler(baseHandler slog.Handler, project string) slog.Handler {
	return &googleCloudLogHandler{base: baseHandler, project: project}
}

type googleCloudLogHandler struct {
	base    slog.Handler
	project string
}

func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError+4:
		return "CRITICAL"
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func (h *googleCloudLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *googleCloudLogHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String(cloudLoggingSeverityKey, severity(r.Level)))

	sc := trace.SpanContextFromContext(ctx)
	if h.project != "" && sc.IsValid() {
		r.AddAttrs(
			slog.String(cloudLoggingTraceKey, fmt.Sprintf("projects/%s/traces/%s", h.project, sc.TraceID())),
			slog.String(cloudLoggingSpanKey, sc.SpanID().String()),
			slog.Bool(cloudLoggingTraceSampledKey, sc.IsSampled()),
		)
	}

	return h.base.Handle(ctx, r)
}

func (h *googleCloudLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &googleCloudLogHandler{base: h.base.WithAttrs(attrs), project: h.project}
}

func (h *googleCloudLogHandler) WithGroup(name string) slog.Handler {
	return &googleCloudLogHandler{base: h.base.WithGroup(name), project: h.project}
}
