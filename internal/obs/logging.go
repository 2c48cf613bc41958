// Package obs contains observability utilities such as logging.
package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger: JSON for Lambda/CloudWatch, text when
// running locally.
func NewLogger(level string, local bool) *slog.Logger {
	return newLogger(os.Stdout, level, local)
}

func newLogger(w io.Writer, level string, local bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if local {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
