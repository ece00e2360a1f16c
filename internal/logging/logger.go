package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger writing to stdout unless format is "console",
// which prefers a human-readable output. Unknown levels fall back to info.
func New(level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

type loggerKey struct{}

func Set(ctx context.Context, lg *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, lg)
}

// Get returns the logger stored in ctx, or a disabled logger.
func Get(ctx context.Context) *zerolog.Logger {
	if lg, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok && lg != nil {
		return lg
	}
	nop := zerolog.Nop()
	return &nop
}
