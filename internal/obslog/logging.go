// Package obslog sets up structured logging for the bench harness and
// the core components' diagnostic events, grounded on the teacher's
// internal/log package: a slog.Logger with a configurable level and
// optional file output, plus a separate RawLogger for a hex-dump trace
// of wire traffic.
package obslog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger builds a slog.Logger writing to stderr (and, if file is
// non-empty, also to that file) at the given level. It returns the
// io.Closers the caller must close on shutdown, matching the teacher's
// cmd/viiper.go defer pattern.
func SetupLogger(level string, file string) (*slog.Logger, []io.Closer, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	writers := []io.Writer{os.Stderr}
	var closers []io.Closer
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("obslog: open log file: %w", err)
		}
		writers = append(writers, f)
		closers = append(closers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: lvl})
	return slog.New(handler), closers, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("obslog: unknown log level %q", level)
	}
}
