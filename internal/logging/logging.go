// Package logging configures the agent's own operational log: structured
// slog output, rotated through lumberjack when a file path is configured,
// falling back to stderr otherwise.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how the operational log is written.
type Options struct {
	// FilePath is the rotated log file's path. Empty means stderr.
	FilePath string
	// MaxSizeMB is the size at which lumberjack rotates the current file.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are retained.
	MaxBackups int
	// MaxAgeDays bounds how long a rotated file is retained.
	MaxAgeDays int
	// Level sets the minimum slog level emitted.
	Level slog.Level
}

// DefaultOptions returns the rotation and level settings used for the given
// file path (empty means stderr). config.yaml sets only the path, through
// paths.agent_log_file; the rotation knobs are not configurable there.
func DefaultOptions(filePath string) Options {
	return Options{
		FilePath:   filePath,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Level:      slog.LevelInfo,
	}
}

// Init builds a slog.Logger per opts, installs it as the process default,
// and returns the underlying writer so callers can close it on shutdown
// (stderr's io.Closer is a no-op wrapper).
func Init(opts Options) (*slog.Logger, io.Closer) {
	var w io.Writer
	var closer io.Closer

	if opts.FilePath == "" {
		w = os.Stderr
		closer = nopCloser{}
	} else {
		lj := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		w = lj
		closer = lj
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
