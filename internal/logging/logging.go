package logging

import (
	"io"
	"log/slog"
	"os"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values return
// fallback.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch s {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}

// Init installs a text logger on stderr as the slog default. The level comes
// from LOG_LEVEL, falling back to defaultLevel.
func Init(defaultLevel slog.Level) *slog.Logger {
	return InitWriter(os.Stderr, defaultLevel)
}

func InitWriter(w io.Writer, defaultLevel slog.Level) *slog.Logger {
	level := defaultLevel
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, defaultLevel)
	}

	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
