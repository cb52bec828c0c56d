// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects level and output format.
type Options struct {
	Level  string    // trace|debug|info|warn|error; default info
	Format string    // json|console; default json
	Out    io.Writer // default os.Stderr
}

// New builds a logger from opts.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(s))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("logging: %w", err)
		}
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(opts.Format) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("logging: unknown format %q (want json or console)", opts.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Setup builds a logger and installs it as the global log.Logger.
func Setup(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	log.Logger = l
	return nil
}
