// Package bus implements the backbone's typed publish/subscribe event bus:
// bounded per-subscriber queues, an ordered middleware chain, and a choice
// between per-subscriber in-order delivery and serialized-per-correlation-id
// delivery.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a category of event a subscriber can filter on.
type EventType string

const (
	EventFileReceived    EventType = "file.received"
	EventFileValidated   EventType = "file.validated"
	EventFileRejected    EventType = "file.rejected"
	EventFileStored      EventType = "file.stored"
	EventRunCreated      EventType = "run.created"
	EventRunStateChanged EventType = "run.state-changed"
	EventStageStarted    EventType = "stage.started"
	EventStageCompleted  EventType = "stage.completed"
	EventStageFailed     EventType = "stage.failed"
	EventProgress        EventType = "progress"
	EventWarning         EventType = "warning"
)

// Event is the envelope every publisher sends and every subscriber
// receives. Payload carries the event-specific body (a domain.File,
// a progress fraction, etc).
type Event struct {
	Type          EventType
	CorrelationID uuid.UUID
	Payload       any
	OccurredAt    time.Time
}

// NewEvent constructs an Event stamped with the current time.
func NewEvent(t EventType, correlationID uuid.UUID, payload any) Event {
	return Event{Type: t, CorrelationID: correlationID, Payload: payload, OccurredAt: time.Now().UTC()}
}
