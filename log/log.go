// Package log provides scoped structured loggers on top of zerolog.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	scopeField   = "s"
	elapsedField = "elapsed_secs"
	nsField      = "ns"
)

//nolint:gochecknoglobals
var globalLogger atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits
func init() {
	lg := zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	globalLogger.Store(&lg)
}

// InitGlobals configures the process-wide logger and returns it.
// The returned logger is also used by [zerolog.Ctx] for contexts without a logger.
func InitGlobals(level zerolog.Level, json, noColor bool) *zerolog.Logger {
	var out io.Writer = os.Stderr
	if !json {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: "2006-01-02 15:04:05.000",
		}
	}

	zerolog.DurationFieldUnit = time.Second
	zerolog.DurationFieldInteger = false

	lg := zerolog.New(out).Level(level).With().Timestamp().Logger()

	globalLogger.Store(&lg)
	zerolog.DefaultContextLogger = &lg

	return &lg
}

// Attr adds a field to a logger context.
type Attr func(zerolog.Context) zerolog.Context

// Scope sets the logger scope.
func Scope(name string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str(scopeField, name)
	}
}

// Elapsed adds the elapsed time in seconds.
func Elapsed(d time.Duration) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Float64(elapsedField, d.Seconds())
	}
}

// NS adds a "db.coll" namespace.
func NS(db, coll string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		if coll == "" {
			return c.Str(nsField, db)
		}

		return c.Str(nsField, db+"."+coll)
	}
}

func Int64(key string, val int64) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Int64(key, val)
	}
}

func String(key, val string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str(key, val)
	}
}

// Logger is a thin wrapper over zerolog with printf-style helpers.
type Logger struct {
	zl *zerolog.Logger
}

// New returns a logger for the scope derived from the global logger.
func New(scope string) Logger {
	lg := globalLogger.Load().With().Str(scopeField, scope).Logger()

	return Logger{zl: &lg}
}

// Ctx returns the logger stored in ctx or the global logger.
func Ctx(ctx context.Context) Logger {
	if ctx != nil {
		if lg := zerolog.Ctx(ctx); lg != nil && lg.GetLevel() != zerolog.Disabled {
			return Logger{zl: lg}
		}
	}

	return Logger{zl: globalLogger.Load()}
}

// WithContext returns a copy of ctx carrying the logger.
func (l Logger) WithContext(ctx context.Context) context.Context {
	return l.zl.WithContext(ctx)
}

// With returns a child logger with the attrs.
func (l Logger) With(attrs ...Attr) Logger {
	c := l.zl.With()
	for _, attr := range attrs {
		c = attr(c)
	}

	lg := c.Logger()

	return Logger{zl: &lg}
}

func (l Logger) Trace(msg string) {
	l.zl.Trace().Msg(msg)
}

func (l Logger) Tracef(format string, args ...any) {
	l.zl.Trace().Msgf(format, args...)
}

func (l Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

func (l Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

func (l Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

// InfoWith logs msg with extra attrs attached to this entry only.
func (l Logger) InfoWith(msg string, attrs ...Attr) {
	l.With(attrs...).Info(msg)
}

func (l Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

func (l Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs err with msg. A nil err logs msg only.
func (l Logger) Error(err error, msg string) {
	e := l.zl.Error()
	if err != nil {
		e = e.Err(err)
	}

	e.Msg(msg)
}

func (l Logger) Errorf(err error, format string, args ...any) {
	l.Error(err, fmt.Sprintf(format, args...))
}

// Unwrap returns the underlying zerolog logger.
func (l Logger) Unwrap() *zerolog.Logger {
	return l.zl
}
