// Package logging builds the slog handler stack for wsserverd from a
// config.LoggingConfig: JSON or text, stdout or a rotating file.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cortexuvula/wsserver/internal/config"
)

// Setup installs the global slog logger for cfg. Returns the lumberjack
// logger (if file logging is configured) so it can be closed on shutdown.
func Setup(cfg config.LoggingConfig) *lumberjack.Logger {
	handler, lj := SetupHandler(cfg)
	slog.SetDefault(slog.New(handler))
	return lj
}

// SetupHandler builds the slog.Handler for cfg without setting the global
// default, so callers can wrap it (the server wraps it in a
// logring.TeeHandler to feed the admin log viewer) before calling
// slog.SetDefault.
func SetupHandler(cfg config.LoggingConfig) (slog.Handler, *lumberjack.Logger) {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return handler, lj
}

// ParseLevel maps a config level string to its slog.Level, defaulting to
// Info for anything unrecognized.
func ParseLevel(level string) slog.Level {
	switch level {
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
