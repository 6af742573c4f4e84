// Package logging configures the structured run log. Records are
// newline-delimited JSON of the form {ts, level, module, message, ...fields},
// one per line, suitable for offline analysis tooling.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "message"
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
}

// Config controls where and how the run log is written.
type Config struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string
	// File is the run-log path. Empty disables the file sink.
	File string
	// Console enables a human-readable writer on stderr alongside the file.
	Console bool
}

// Setup builds the root logger. The returned closer flushes and closes the
// file sink and must be called at process exit.
func Setup(cfg Config) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	closer := func() error { return nil }

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

// ForModule returns a child logger tagged with the component name.
func ForModule(logger zerolog.Logger, module string) zerolog.Logger {
	return logger.With().Str("module", module).Logger()
}
