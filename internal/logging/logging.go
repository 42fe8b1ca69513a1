// Package logging wraps logrus with context-aware helpers.
//
// Every entry carries the trace id found in the context, and trailing
// key/value arguments become structured fields:
//
//	log.Info(ctx, "post created", "id", id, "category", category)
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const TraceKey = "trace_id"

type traceKey struct{}

// Config selects level, format and destination.
type Config struct {
	Level      string
	Format     string // json | text
	Output     string // stdout | stderr | file
	OutputFile string
}

// Logger is a logrus logger whose methods take a context.
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New builds a logger from cfg. The returned cleanup closes the log file, if any.
func New(cfg Config) (*Logger, func(), error) {
	l := &Logger{Logger: logrus.New()}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		lv, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("logger level: %w", err)
		}
		level = lv
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	switch cfg.Output {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		if cfg.OutputFile == "" {
			return nil, nil, fmt.Errorf("logger output file is empty")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.OutputFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		l.SetOutput(f)
	default:
		l.SetOutput(os.Stdout)
	}

	return l, func() {
		if l.file != nil {
			_ = l.file.Close()
		}
	}, nil
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.SetOutput(io.Discard)
	return l
}

// WithTraceID stores id in ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace id stored in ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// EnsureTraceID returns ctx with a trace id, generating one when missing.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := TraceID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithTraceID(ctx, id), id
}

func (l *Logger) entry(ctx context.Context, kv []any) *logrus.Entry {
	fields := logrus.Fields{}
	if id := TraceID(ctx); id != "" {
		fields[TraceKey] = id
	}
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 == len(kv) {
			fields[key] = "(missing)"
			break
		}
		if err, ok := kv[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = kv[i+1]
	}
	return l.WithFields(fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Debug(msg)
}

func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Info(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Warn(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.entry(ctx, kv).Error(msg)
}
