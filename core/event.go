package core

import (
	"time"

	"github.com/google/uuid"
)

// Event represents the common schema for all ingested security events.
// Events are immutable once received: the pipeline only ever reads them,
// so the same pointer may sit in multiple buffers and caches at once.
type Event struct {
	EventID      string                 `json:"event_id" example:"event-123"`
	EventType    string                 `json:"event_type" example:"4625"`
	Source       string                 `json:"source" example:"security"`
	Severity     string                 `json:"severity,omitempty" example:"high"`
	Timestamp    time.Time              `json:"timestamp" example:"2023-10-31T12:00:00Z"`
	ComputerName string                 `json:"computer_name,omitempty"`
	UserName     string                 `json:"user_name,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent() *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]interface{}),
	}
}

// Signature returns the coarse identity used for evaluation caching.
// Two events with the same type and source share cached verdicts within
// the cache TTL.
func (e *Event) Signature() string {
	return e.EventType + ":" + e.Source
}

// BufferKey returns the key under which this event is retained for
// cross-event pattern matching.
func (e *Event) BufferKey() string {
	return e.Source + "|" + e.EventType
}
