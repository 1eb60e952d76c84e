package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string level to Level
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug
	case "info", "INFO":
		return LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn
	case "error", "ERROR":
		return LevelError
	case "fatal", "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger is a structured logger backed by zerolog
type Logger struct {
	zl zerolog.Logger
}

// Config for logger
type Config struct {
	Level   Level
	Output  io.Writer
	Service string
	Console bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger
func Init(cfg Config) {
	once.Do(func() {
		defaultLogger = New(cfg)
	})
}

// Default returns the default logger
func Default() *Logger {
	if defaultLogger == nil {
		Init(Config{Level: LevelInfo, Output: os.Stdout, Service: "engagement-worker"})
	}
	return defaultLogger
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Service == "" {
		cfg.Service = "engagement-worker"
	}
	out := cfg.Output
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).
		Level(cfg.Level.zerolog()).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
	return &Logger{zl: zl}
}

// Zerolog exposes the underlying logger for components that take one directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger()}
}

// WithContext extracts request_id and user_email from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	c := l.zl.With()
	if reqID, ok := ctx.Value("request_id").(string); ok && reqID != "" {
		c = c.Str("request_id", reqID)
	}
	if email, ok := ctx.Value("user_email").(string); ok && email != "" {
		c = c.Str("user_email", email)
	}
	return &Logger{zl: c.Logger()}
}

// WithError adds error information
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// WithDuration adds duration in milliseconds
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.WithField("duration_ms", float64(d.Microseconds())/1000.0)
}

func (l *Logger) log(level Level, msg string, args ...any) {
	ev := l.zl.WithLevel(level.zerolog())
	if level >= LevelError {
		ev = ev.Caller(2)
	}
	if len(args) == 0 {
		ev.Msg(msg)
		return
	}
	ev.Msgf(msg, args...)
}

// Log methods
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) {
	l.log(LevelFatal, msg, args...)
	os.Exit(1)
}

// Package-level functions using default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Fatal(msg string, args ...any) { Default().Fatal(msg, args...) }

func WithField(key string, value any) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger { return Default().WithFields(fields) }
func WithContext(ctx context.Context) *Logger  { return Default().WithContext(ctx) }
func WithError(err error) *Logger              { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger     { return Default().WithDuration(d) }
