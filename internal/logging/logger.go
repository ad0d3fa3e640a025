// Package logging provides structured logging for the library and the CLI.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Output formats accepted by NewLogger.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatAuto    = "auto"
)

// Logger wraps zerolog with format-specific output.
type Logger struct {
	zlog   zerolog.Logger
	format string    // "console" or "json" after auto resolution
	output io.Writer // current output writer
}

// NewLogger creates a logger writing to w in the given format.
// FormatAuto picks the console writer when w is a terminal and JSON otherwise.
func NewLogger(format string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	format = resolveFormat(format, w)

	return &Logger{
		zlog:   build(format, w),
		format: format,
		output: w,
	}
}

// NewDefaultCLILogger creates a default CLI logger on stderr.
func NewDefaultCLILogger() *Logger {
	return NewLogger(FormatAuto, os.Stderr)
}

// NewNop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func NewNop() *Logger {
	return &Logger{
		zlog:   zerolog.Nop(),
		format: FormatJSON,
		output: io.Discard,
	}
}

func resolveFormat(format string, w io.Writer) string {
	switch strings.ToLower(format) {
	case FormatJSON:
		return FormatJSON
	case FormatConsole:
		return FormatConsole
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return FormatConsole
	}
	return FormatJSON
}

func build(format string, w io.Writer) zerolog.Logger {
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Trace returns a trace level event. Frame-level gateway logging uses it.
func (l *Logger) Trace() *zerolog.Event {
	return l.zlog.Trace()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("component", name).Logger(),
		format: l.format,
		output: l.output,
	}
}

// Zerolog exposes the underlying zerolog.Logger for libraries that take one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetOutput changes the output writer for the logger, preserving the format.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = build(l.format, w)
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Format returns the resolved output format.
func (l *Logger) Format() string {
	return l.format
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// ParseLevel converts a level name ("debug", "info", ...) into a zerolog level.
// Unknown names fall back to info.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return level
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Configure global logger
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
