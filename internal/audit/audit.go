// Package audit writes one NDJSON record per tool call and config change.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/toolbox/internal/logger"
	"github.com/harun/toolbox/pkg/toolregistry"
)

// Event types
const (
	TypeTool   = "tool"
	TypeConfig = "config"
)

// Event represents a structured event for the audit log
type Event struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"` // e.g. "execute:grep", "reload"
	Status    string         `json:"status"` // "success" or "failure"
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// Logger records audit events
type Logger struct {
	logger   zerolog.Logger
	mu       sync.Mutex
	closer   io.Closer
	redactor *logger.Redactor
}

// New writes audit records to w. A nil redactor leaves arguments as-is.
func New(w io.Writer, redactor *logger.Redactor) *Logger {
	return &Logger{
		logger:   zerolog.New(w).With().Timestamp().Logger(),
		redactor: redactor,
	}
}

// Open appends audit records to the file at path
func Open(path string, redactor *logger.Redactor) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	l := New(file, redactor)
	l.closer = file
	return l, nil
}

// Record emits an audit event and mirrors it as a span event when a span
// is recording in ctx.
func (a *Logger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		if event.TraceID == "" {
			event.TraceID = span.SpanContext().TraceID().String()
		}
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("event_type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status).
		Time("event_time", event.Timestamp)

	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}

	entry.Send()
}

// ObserveCall implements toolregistry.Observer
func (a *Logger) ObserveCall(ctx context.Context, rec toolregistry.CallRecord) {
	args := rec.Args
	if a.redactor != nil {
		args = a.redactor.RedactAll(args)
	}

	metadata := map[string]any{
		"call_id":     rec.CallID,
		"command":     rec.Command,
		"args":        args,
		"exit_code":   rec.ExitCode,
		"truncated":   rec.Truncated,
		"duration_ms": rec.Duration.Milliseconds(),
	}

	status := "success"
	if rec.Err != nil {
		status = "failure"
		metadata["error_kind"] = rec.ErrorKind
		msg := rec.Err.Error()
		if a.redactor != nil {
			msg = a.redactor.Redact(msg)
		}
		metadata["error"] = msg
	}

	a.Record(ctx, Event{
		Type:     TypeTool,
		Action:   "execute:" + rec.Tool,
		Status:   status,
		Metadata: metadata,
		TraceID:  rec.TraceID,
	})
}

// RecordReload audits a config reload attempt
func (a *Logger) RecordReload(ctx context.Context, path string, tools int, err error) {
	event := Event{
		Type:     TypeConfig,
		Action:   "reload",
		Status:   "success",
		Metadata: map[string]any{"path": path, "tools": tools},
	}
	if err != nil {
		event.Status = "failure"
		event.Metadata["error"] = err.Error()
	}
	a.Record(ctx, event)
}

// Close closes the audit logger's file handle
func (a *Logger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
