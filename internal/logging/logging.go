package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger for the given service.
// LOG_FORMAT selects "text" or "json" (default) output; LOG_LEVEL
// selects "debug", "info" (default), "warn" or "error".
func Init(service string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)

	// Route stdlib log through slog so transitive log.Printf calls
	// still come out structured.
	log.SetFlags(0)
	log.SetOutput(&slogWriter{logger: logger})

	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), slog.String("source", "stdlib"))
	return len(p), nil
}
