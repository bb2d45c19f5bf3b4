package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/lct/pkg/constants"
)

// AuditEvent represents a single audit trail event.
type AuditEvent struct {
	EventID   uuid.UUID                `json:"event_id"`
	EventType constants.AuditEventType `json:"event_type"`
	EntityID  string                   `json:"entity_id"`
	ActorID   string                   `json:"actor_id,omitempty"`
	Success   bool                     `json:"success"`
	Message   string                   `json:"message"`
	TraceID   string                   `json:"trace_id,omitempty"`
	Metadata  map[string]interface{}   `json:"metadata,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
	// Signature is an HMAC over the canonical encoding of the event without this field.
	Signature string `json:"signature,omitempty"`
}

// NewAuditEvent creates a new audit event.
func NewAuditEvent(eventType constants.AuditEventType, entityID string, success bool, message string) *AuditEvent {
	return &AuditEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		EntityID:  entityID,
		Success:   success,
		Message:   message,
		Metadata:  map[string]interface{}{},
		Timestamp: time.Now().UTC(),
	}
}

// WithActor sets the actor for the audit event.
func (a *AuditEvent) WithActor(actorID string) *AuditEvent {
	a.ActorID = actorID
	return a
}

// WithTrace sets the trace id for the audit event.
func (a *AuditEvent) WithTrace(traceID string) *AuditEvent {
	a.TraceID = traceID
	return a
}

// WithMetadata adds one metadata entry.
func (a *AuditEvent) WithMetadata(key string, value interface{}) *AuditEvent {
	if a.Metadata == nil {
		a.Metadata = map[string]interface{}{}
	}
	a.Metadata[key] = value
	return a
}

// MetadataJSON returns the metadata as raw JSON for storage.
func (a *AuditEvent) MetadataJSON() json.RawMessage {
	if len(a.Metadata) == 0 {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(a.Metadata)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
