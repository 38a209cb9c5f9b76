// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/spotledger/internal/config"
)

// LevelCritical marks ledger invariant violations. It sorts above
// slog.LevelError so an error-level handler still emits it.
const LevelCritical = slog.Level(12)

// ParseLevel maps a config log_level to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// New returns a JSON logger writing to stdout and, when cfg.Path is set, to
// a size-rotated file. The returned closer flushes the file writer.
func New(level string, cfg config.LogFileConfig) (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stdout, file)
		closer = file
	}
	return NewWithWriter(w, ParseLevel(level)), closer
}

// NewWithWriter returns a JSON logger on w. LevelCritical is rendered as
// "CRITICAL".
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
