package internal

import (
	"io"
	"log/slog"
	"time"
)

// NewLogger builds the process logger. Production environments get a
// JSON handler with RFC3339Nano timestamps, everything else gets the
// text handler for readable local output.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "", "info":
		lvl.Set(slog.LevelInfo)
	case "warn":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		slog.Default().Warn("unknown log level, using info", slog.String("value", level))
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if env != "prod" {
		return slog.New(slog.NewTextHandler(w, opts))
	}

	opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			return slog.String("time", a.Value.Time().Format(time.RFC3339Nano))
		}
		return a
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
