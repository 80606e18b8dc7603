package audit

import (
	"context"
	"sync"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger{}
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NoOpLogger) Close() error                                { return nil }

// MemoryLogger keeps events in memory
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty MemoryLogger
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryLogger) Close() error { return nil }

// Events returns a copy of the logged events
func (m *MemoryLogger) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns the logged events of type t
func (m *MemoryLogger) OfType(t EventType) []*Event {
	var out []*Event
	for _, e := range m.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
