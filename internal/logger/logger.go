// Package logger provides a lightweight, centralized logging facility
// with configurable verbosity levels.
//
// Design goals:
//   - Simple API (Errorf, Warnf, Infof, Debugf, Tracef)
//   - Centralized verbosity control
//   - Zero formatting logic at call sites
//   - Structured output via zerolog, optional rotating file via lumberjack
//
// Verbosity levels (in increasing order):
//
//	Error < Info < Debug < Trace
//
// Example usage:
//
//	logger.SetVerbosity(2) // Debug
//	logger.Infof("starting engine")
//	logger.Debugf("event=cycle month=%s side=%s", month, side)
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a logging verbosity level.
// Higher values mean more verbose logging.
type Level int

const (
	Error Level = iota // Error logs only critical failures.
	Info               // Info logs high-level application progress.
	Debug              // Debug logs detailed diagnostic information.
	Trace              // Trace logs very fine-grained execution details.
)

// Options controls where log output goes.
type Options struct {
	Verbosity  int    // 0=errors,1=info,2=debug,3=trace
	File       string // optional log file, rotated by size
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	NoColor    bool
}

var (
	mu      sync.RWMutex
	current = Info
	out     io.Writer
	base    zerolog.Logger
)

func init() {
	// filtering happens in logf
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	out = consoleWriter(os.Stderr, false)
	base = newLogger(out, 2)
}

// Configure replaces the active output and verbosity.
// Typically called once during application startup.
func Configure(opts Options) {
	writers := []io.Writer{consoleWriter(os.Stderr, opts.NoColor)}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			})
		}
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	mu.Lock()
	out, base = w, newLogger(w, 2)
	current = clamp(Level(opts.Verbosity))
	mu.Unlock()
}

// SetOutput redirects log output to w without console formatting.
// Intended for tests that assert on log lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	out, base = w, newLogger(w, 2)
	mu.Unlock()
}

// SetVerbosity sets the global logging verbosity.
func SetVerbosity(v int) {
	mu.Lock()
	current = clamp(Level(v))
	mu.Unlock()
}

// Verbosity returns the active level.
func Verbosity() Level {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// With returns a child logger carrying the given string fields, for
// callers that prefer structured events over format strings. The child
// is capped at the verbosity active when it is created.
func With(fields map[string]string) zerolog.Logger {
	mu.RLock()
	ctx := newLogger(out, 0).Level(zerologLevel(current)).With()
	mu.RUnlock()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}

// newLogger skips extra caller frames for the exported helpers, which
// go through logf.
func newLogger(w io.Writer, skip int) zerolog.Logger {
	return zerolog.New(w).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + skip).
		Logger()
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case Error:
		return zerolog.ErrorLevel
	case Debug:
		return zerolog.DebugLevel
	case Trace:
		return zerolog.TraceLevel
	}
	return zerolog.InfoLevel
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: time.DateTime,
	}
}

func clamp(l Level) Level {
	switch {
	case l < Error:
		return Error
	case l > Trace:
		return Trace
	}
	return l
}

// logf checks verbosity and forwards the message to zerolog.
func logf(l Level, ev func(zerolog.Logger) *zerolog.Event, format string, args ...any) {
	mu.RLock()
	enabled := current >= l
	lg := base
	mu.RUnlock()
	if !enabled {
		return
	}
	ev(lg).Msgf(format, args...)
}

// Errorf logs an error-level message.
// Use this for failures that require attention.
func Errorf(format string, args ...any) {
	logf(Error, func(l zerolog.Logger) *zerolog.Event { return l.Error() }, format, args...)
}

// Warnf logs a warning. It shares the Info verbosity threshold.
func Warnf(format string, args ...any) {
	logf(Info, func(l zerolog.Logger) *zerolog.Event { return l.Warn() }, format, args...)
}

// Infof logs an informational message.
// Use this for major lifecycle events.
func Infof(format string, args ...any) {
	logf(Info, func(l zerolog.Logger) *zerolog.Event { return l.Info() }, format, args...)
}

// Debugf logs debugging information.
func Debugf(format string, args ...any) {
	logf(Debug, func(l zerolog.Logger) *zerolog.Event { return l.Debug() }, format, args...)
}

// Tracef logs very detailed execution traces.
// Use this sparingly due to high volume.
func Tracef(format string, args ...any) {
	logf(Trace, func(l zerolog.Logger) *zerolog.Event { return l.Trace() }, format, args...)
}
