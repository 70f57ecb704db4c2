package audit

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is the number of events a MemoryLogger keeps.
const DefaultMemoryCapacity = 1000

// MemoryLogger keeps the most recent events in a fixed-size ring.
type MemoryLogger struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewMemoryLogger creates a ring holding up to capacity events.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLogger{events: make([]Event, capacity)}
}

// Log records an audit event, overwriting the oldest when full.
func (m *MemoryLogger) Log(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Query returns matching events, newest first.
func (m *MemoryLogger) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}

	result := make([]Event, 0)
	skipped := 0
	for i := range n {
		e := m.events[(m.next-1-i+len(m.events))%len(m.events)]
		if !filter.matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// Close is a no-op.
func (*MemoryLogger) Close() error {
	return nil
}

func (f QueryFilter) matches(e Event) bool {
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.Username != "" && e.Username != f.Username {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// Verify interface compliance.
var _ Logger = (*MemoryLogger)(nil)
