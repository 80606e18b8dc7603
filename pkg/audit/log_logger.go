package audit

import (
	"context"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// LogLogger writes events to the process log, one entry per event
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates a LogLogger on l
func NewLogLogger(l *observability.Logger) *LogLogger {
	return &LogLogger{logger: l}
}

func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"app":        event.App,
		"role":       event.Role,
	}
	if event.Origin != "" {
		fields["origin"] = event.Origin
	}
	if event.AccountID != "" {
		fields["account_id"] = event.AccountID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	l.logger.WithFields(fields).Info("audit: " + msg)
	return nil
}

func (l *LogLogger) Close() error { return nil }
