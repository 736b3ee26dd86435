// Package logging provides structured logging for lingsync using slog.
//
// The LingQ API token must never be logged. Helpers in this package only
// accept non-secret values; callers keep the token out of free-form
// attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level aliases for convenience.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	defaultLogger *slog.Logger
	defaultOnce   sync.Once
)

// Options configures the logger behavior.
type Options struct {
	// Level sets the minimum log level. Defaults to LevelInfo.
	Level slog.Level
	// Output sets the output destination. Defaults to os.Stderr.
	Output io.Writer
	// JSON enables JSON output format. Defaults to false (text format).
	JSON bool
	// AddSource includes source file and line in log output.
	AddSource bool
}

// DefaultOptions returns options suitable for CLI usage.
func DefaultOptions() Options {
	return Options{
		Level:     LevelInfo,
		Output:    os.Stderr,
		JSON:      false,
		AddSource: false,
	}
}

// New creates a new logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	return slog.New(handler)
}

// Default returns the default logger, creating it if necessary.
// The default logger writes text output to stderr at Info level.
func Default() *slog.Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(DefaultOptions())
	})
	return defaultLogger
}

// SetDefault sets the default logger and also sets it as slog's default.
// This also ensures the sync.Once is triggered so Default() won't override the logger.
func SetDefault(logger *slog.Logger) {
	// Trigger the once to prevent Default() from overwriting our logger
	defaultOnce.Do(func() {})
	defaultLogger = logger
	slog.SetDefault(logger)
}

// With returns a logger that includes the given attributes in every output.
func With(args ...any) *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger.With(args...)
	}
	return Default().With(args...)
}

// WithContext returns a logger with context-derived attributes.
func WithContext(ctx context.Context) *slog.Logger {
	if l := FromContext(ctx); l != nil {
		return l
	}
	if defaultLogger != nil {
		return defaultLogger
	}
	return Default()
}

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at info level using the default logger.
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at error level using the default logger.
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// Context key for logger storage.
type loggerKey struct{}

// NewContext returns a context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the logger from context, or nil if not present.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return nil
}

// Common attribute keys for consistent logging across the codebase.
const (
	// KeyTerm identifies a vocabulary term.
	KeyTerm = "term"
	// KeyNoteID identifies an Anki note.
	KeyNoteID = "note_id"
	// KeyPK identifies a LingQ card by primary key.
	KeyPK = "lingq_pk"
	// KeyLanguage identifies the LingQ language code.
	KeyLanguage = "language"
	// KeyProfile identifies a sync profile by name.
	KeyProfile = "profile"
	// KeyOperation identifies the operation being performed.
	KeyOperation = "operation"
	// KeyOpType identifies a sync operation type.
	KeyOpType = "op_type"
	// KeyReason records a skip/conflict reason.
	KeyReason = "reason"
	// KeyCount provides a count of items.
	KeyCount = "count"
	// KeyError attaches an error value.
	KeyError = "error"
	// KeyDuration records operation duration.
	KeyDuration = "duration"
)

// Term returns a slog attribute for a vocabulary term.
func Term(t string) slog.Attr {
	return slog.String(KeyTerm, t)
}

// NoteID returns a slog attribute for an Anki note id.
func NoteID(id int64) slog.Attr {
	return slog.Int64(KeyNoteID, id)
}

// PK returns a slog attribute for a LingQ card primary key.
func PK(pk int) slog.Attr {
	return slog.Int(KeyPK, pk)
}

// Language returns a slog attribute for a LingQ language code.
func Language(code string) slog.Attr {
	return slog.String(KeyLanguage, code)
}

// Profile returns a slog attribute for a profile name.
func Profile(name string) slog.Attr {
	return slog.String(KeyProfile, name)
}

// Operation returns a slog attribute for operation logging.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Reason returns a slog attribute for a skip/conflict reason.
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// Err returns a slog attribute for error logging.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any(KeyError, err)
}

// Count returns a slog attribute for item counts.
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}

// Timer returns a function that logs the elapsed time when called.
// Intended for use with defer:
//
//	defer logging.Timer("diff")()
func Timer(operation string) func() {
	start := time.Now()
	return func() {
		Debug("operation completed",
			Operation(operation),
			slog.Duration(KeyDuration, time.Since(start)),
		)
	}
}
