package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	KeyRequestID = "request_id"
	KeyService   = "service"
	KeyInstance  = "instance"
	KeyAttempt   = "attempt"
)

func New(lvl string, addSource bool, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, lvl, addSource, environment)
}

// NewWithWriter builds the same logger as New but writes to w.
func NewWithWriter(w io.Writer, lvl string, addSource bool, environment string) *slog.Logger {
	level := ParseLevel(lvl)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	}
	var handler slog.Handler

	if strings.ToLower(environment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("environment", environment),
	)
}

// ForRequest scopes log to a single inbound routing request.
func ForRequest(log *slog.Logger, requestID, serviceName string) *slog.Logger {
	return log.With(
		slog.String(KeyRequestID, requestID),
		slog.String(KeyService, serviceName),
	)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
