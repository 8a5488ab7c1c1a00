package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// ServiceName is attached to every log line
const ServiceName = "goodlistseller-gate"

var logger *slog.Logger

// InitLogger initializes the global structured logger on stdout
func InitLogger(level, format string) {
	InitLoggerWriter(os.Stdout, level, format)
}

// InitLoggerWriter initializes the global structured logger on w
func InitLoggerWriter(w io.Writer, level, format string) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: strings.EqualFold(level, "debug"),
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger = slog.New(handler).With(slog.String("service", ServiceName))
	slog.SetDefault(logger)
}

// FromContext returns a logger carrying the chi request ID, when present
func FromContext(ctx context.Context) *slog.Logger {
	l := logger
	if l == nil {
		l = slog.Default()
	}

	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		return l.With(slog.String("request_id", reqID))
	}
	return l
}

// parseLevel converts LOG_LEVEL to slog.Level; unknown values mean info
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
