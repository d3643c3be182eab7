package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"anpr-pipeline/internal/config"
)

// New builds the process logger. Unknown levels fall back to info.
func New(cfg config.LogConfig, service string) zerolog.Logger {
	return newWithWriter(cfg, service, os.Stdout)
}

func newWithWriter(cfg config.LogConfig, service string, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
