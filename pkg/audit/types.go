package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeSessionLogin         EventType = "session.login"
	EventTypeSessionLogout        EventType = "session.logout"
	EventTypeSessionInvalidated   EventType = "session.invalidated"
	EventTypeSessionCascade       EventType = "session.cascade"
	EventTypeSessionSignalHandled EventType = "session.signal_handled"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// App instance
	App    string `json:"app,omitempty"`
	Role   string `json:"role,omitempty"`
	Origin string `json:"origin,omitempty"`

	// Actor
	AccountID string `json:"account_id,omitempty"`
	Username  string `json:"username,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with a fresh id and the current time
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
}

// WithApp sets the app instance fields
func (e *Event) WithApp(app, role string) *Event {
	e.App = app
	e.Role = role
	return e
}

// WithAccount sets the actor fields
func (e *Event) WithAccount(id, username string) *Event {
	e.AccountID = id
	e.Username = username
	return e
}

// WithMessage sets the message
func (e *Event) WithMessage(msg string) *Event {
	e.Message = msg
	return e
}

// WithError records err, if any, and marks the event failed
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.ErrorMessage = err.Error()
		e.Status = EventStatusFailure
	}
	return e
}

// WithMetadata adds one metadata entry
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
