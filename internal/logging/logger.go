// Package logging provides structured, trace-aware logging built on logrus,
// combining context-propagation helpers with file-output support into a
// single logger for the control plane.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by the logger.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	ActorKey   ContextKey = "actor"
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with the service name and context helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// Config controls logger construction.
type Config struct {
	Level      string
	Format     string
	Output     string // "stdout" or "file"
	FilePrefix string
}

// New builds a Logger per cfg. Unknown/blank levels fall back to info;
// unknown formats fall back to text; output "file" appends to
// logs/<FilePrefix>.log in addition to stdout.
func New(service string, cfg Config) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "auditor"
		}
		if err := os.MkdirAll("logs", 0o755); err != nil {
			logger.Errorf("failed to create logs directory: %v", err)
		} else {
			path := filepath.Join("logs", prefix+".log")
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				logger.Errorf("failed to open log file: %v", err)
			} else {
				logger.SetOutput(io.MultiWriter(os.Stdout, f))
			}
		}
	default:
		logger.SetOutput(os.Stdout)
	}

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT/LOG_OUTPUT, defaulting
// to info/text/stdout.
func NewFromEnv(service string) *Logger {
	return New(service, Config{
		Level:  envOrDefault("LOG_LEVEL", "info"),
		Format: envOrDefault("LOG_FORMAT", "text"),
		Output: envOrDefault("LOG_OUTPUT", "stdout"),
	})
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// WithContext returns an entry annotated with the service name plus any
// trace ID / actor carried on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if actor := ctx.Value(ActorKey); actor != nil {
		entry = entry.WithField("actor", actor)
	}
	return entry
}

// WithFields returns an entry annotated with the service name and fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError returns an entry annotated with the service name and error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "error": err.Error()})
}

// NewTraceID generates a new random trace identifier.
func NewTraceID() string { return uuid.New().String() }

// WithTraceID attaches a trace ID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID reads the trace ID from ctx, or "" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActor attaches an actor identity to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// Actor reads the actor identity from ctx, or "" if absent.
func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(ActorKey).(string); ok {
		return v
	}
	return ""
}

// LogRequest logs one HTTP request at Info level.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, dur time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method": method, "path": path, "status": status, "duration_ms": dur.Milliseconds(),
	}).Info("http request")
}

// LogDeploymentTransition logs a deployment state transition at Info level.
func (l *Logger) LogDeploymentTransition(ctx context.Context, deploymentID, repository string, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"deployment_id": deploymentID, "repository": repository, "from_state": from, "to_state": to,
	}).Info("deployment state transition")
}

// LogSecurityEvent logs a security-relevant event at Warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := logrus.Fields{"event_type": eventType}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

var defaultLogger *Logger

// InitDefault initializes the process-wide default logger.
func InitDefault(service string, cfg Config) { defaultLogger = New(service, cfg) }

// Default returns the process-wide default logger, lazily initializing a
// fallback if InitDefault was never called.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("auditor", Config{Level: "info", Format: "text", Output: "stdout"})
	}
	return defaultLogger
}

// FormatDuration renders d in milliseconds with two decimal places.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
