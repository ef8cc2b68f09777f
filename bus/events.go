package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a submission lifecycle event.
type EventType string

// Submission lifecycle event types.
const (
	EventSubmissionAccepted     EventType = "submission.accepted"
	EventSubmissionTransmitted  EventType = "submission.transmitted"
	EventSubmissionAcknowledged EventType = "submission.acknowledged"
	EventSubmissionRejected     EventType = "submission.rejected"
	EventSubmissionDead         EventType = "submission.dead"
	EventGatewayDegraded        EventType = "gateway.degraded"
	EventGatewayRecovered       EventType = "gateway.recovered"
)

// Subjects the typed events are published on. NATS subscribers that want
// the whole lifecycle stream can subscribe to the SubjectSubmissionAll
// wildcard; the memory bus matches subjects exactly, so in-process
// subscribers use LifecycleSubjects instead.
const (
	SubjectSubmissionAccepted     = "efile.submission.accepted"
	SubjectSubmissionTransmitted  = "efile.submission.transmitted"
	SubjectSubmissionAcknowledged = "efile.submission.acknowledged"
	SubjectSubmissionRejected     = "efile.submission.rejected"
	SubjectSubmissionDead         = "efile.submission.dead"
	SubjectSubmissionAll          = "efile.submission.>"
	SubjectGatewayDegraded        = "efile.gateway.degraded"
	SubjectGatewayRecovered       = "efile.gateway.recovered"
)

// LifecycleSubjects returns every subject a typed event can be published
// on. Useful with the memory bus, which does not support wildcards.
func LifecycleSubjects() []string {
	return []string{
		SubjectSubmissionAccepted,
		SubjectSubmissionTransmitted,
		SubjectSubmissionAcknowledged,
		SubjectSubmissionRejected,
		SubjectSubmissionDead,
		SubjectGatewayDegraded,
		SubjectGatewayRecovered,
	}
}

// Event is the envelope published for submission lifecycle changes.
type Event struct {
	Type         EventType `json:"type"`
	SubmissionID string    `json:"submission_id,omitempty"`
	ReturnID     string    `json:"return_id,omitempty"`
	Gateway      string    `json:"gateway,omitempty"`

	// Receipt is the gateway-issued submission identifier, present once
	// the submission has been transmitted.
	Receipt string `json:"receipt,omitempty"`

	// Detail carries a human-readable reason (rejection text, last error
	// before dead-lettering, breaker state change).
	Detail string `json:"detail,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Subject returns the bus subject for the event's type.
func (e Event) Subject() string {
	switch e.Type {
	case EventSubmissionAccepted:
		return SubjectSubmissionAccepted
	case EventSubmissionTransmitted:
		return SubjectSubmissionTransmitted
	case EventSubmissionAcknowledged:
		return SubjectSubmissionAcknowledged
	case EventSubmissionRejected:
		return SubjectSubmissionRejected
	case EventSubmissionDead:
		return SubjectSubmissionDead
	case EventGatewayDegraded:
		return SubjectGatewayDegraded
	case EventGatewayRecovered:
		return SubjectGatewayRecovered
	default:
		return ""
	}
}

// PublishEvent encodes the event as JSON and publishes it on the subject
// derived from its type. The OccurredAt timestamp is stamped if unset.
func PublishEvent(mb MessageBus, e Event) error {
	subject := e.Subject()
	if subject == "" {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidSubject, e.Type)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return mb.Publish(subject, data)
}

// DecodeEvent unmarshals a bus message into an Event.
func DecodeEvent(msg *Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}
