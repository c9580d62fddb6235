package logctx

import (
	"context"
	"io"
	"log/slog"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// NewLogger builds the service logger: JSON lines on w, with trace and span
// ids added to every record logged inside a span. Records are also fanned out
// to any extra handler that is not nil.
func NewLogger(w io.Writer, level slog.Level, extra ...slog.Handler) *slog.Logger {
	handlers := []slog.Handler{NewTraceHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}

	for _, h := range extra {
		if h != nil {
			handlers = append(handlers, h)
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR to slog levels, case-insensitively.
// Anything else is INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
