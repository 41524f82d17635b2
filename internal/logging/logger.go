package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Options configures the process logger.
type Options struct {
	Debug    bool      // Debug level on every sink
	SaveLogs bool      // Also write jsonl logs and relay traffic under Dir
	Dir      string    // Log directory
	MaxBytes int64     // Rotate files past this size
	Console  io.Writer // Defaults to os.Stderr
}

// Logger bundles the process logger with its file sinks.
type Logger struct {
	*slog.Logger

	traffic *TrafficRecorder
	file    *fileSink
}

// New builds the logger described by opts.
func New(opts Options) (*Logger, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{NewConsoleHandler(console, level)}
	l := &Logger{}

	if opts.SaveLogs {
		file, err := newFileSink(opts.Dir, "iotclient", opts.MaxBytes)
		if err != nil {
			return nil, err
		}
		traffic, err := NewTrafficRecorder(opts.Dir, opts.MaxBytes)
		if err != nil {
			file.Close()
			return nil, err
		}
		l.file = file
		l.traffic = traffic
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	}

	l.Logger = slog.New(newMultiHandler(handlers...))
	return l, nil
}

// Traffic returns the traffic recorder, or nil when save_logs is off.
func (l *Logger) Traffic() *TrafficRecorder {
	return l.traffic
}

// Close flushes and closes the file sinks.
func (l *Logger) Close() error {
	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
	}
	if l.traffic != nil {
		errs = append(errs, l.traffic.Close())
	}
	return errors.Join(errs...)
}
