package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventLoginSucceeded is a completed authorization flow.
	EventLoginSucceeded EventType = "login_succeeded"

	// EventLoginFailed is an authorization flow that ended in an error.
	EventLoginFailed EventType = "login_failed"

	// EventSessionRefreshed is a successful silent token refresh.
	EventSessionRefreshed EventType = "session_refreshed"

	// EventSessionExpired is a session dropped after a failed refresh or
	// after reaching its maximum lifetime.
	EventSessionExpired EventType = "session_expired"

	// EventLogout is an explicit session invalidation.
	EventLogout EventType = "logout"
)

// NewEvent creates a new audit event.
func NewEvent(eventType EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Success:   true,
	}
}

// WithUser adds the username to the event.
func (e *Event) WithUser(username string) *Event {
	e.Username = username
	return e
}

// WithSession adds a session fingerprint to the event. Raw session ids must
// not be passed here.
func (e *Event) WithSession(fingerprint string) *Event {
	e.SessionID = fingerprint
	return e
}

// WithRequestID adds a request ID to the event.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithError marks the event failed.
func (e *Event) WithError(code string, err error) *Event {
	e.Success = false
	e.ErrorCode = code
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}
