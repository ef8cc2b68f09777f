package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	// ErrNotFound indicates the requested submission does not exist.
	ErrNotFound = errors.New("submission not found")

	// ErrNothingDue indicates no pending submission is due for claiming.
	ErrNothingDue = errors.New("no submission due")

	// ErrAlreadyClaimed indicates the submission is claimed by another worker.
	ErrAlreadyClaimed = errors.New("submission already claimed")

	// ErrNotClaimed indicates the submission must be claimed first.
	ErrNotClaimed = errors.New("submission not claimed")

	// ErrWrongWorker indicates the operation was attempted by a worker
	// that does not hold the claim.
	ErrWrongWorker = errors.New("submission claimed by different worker")

	// ErrTerminal indicates the submission is in a terminal status.
	ErrTerminal = errors.New("submission in terminal status")

	// ErrNotTransmitted indicates an ack transition was attempted on a
	// submission that has not been transmitted.
	ErrNotTransmitted = errors.New("submission not transmitted")

	// ErrNotDead indicates Requeue was attempted on a live submission.
	ErrNotDead = errors.New("submission not dead-lettered")

	// ErrInvalidSubmission indicates required fields are missing.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrInvalidWorkerID indicates the worker ID is empty.
	ErrInvalidWorkerID = errors.New("invalid worker ID")

	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("queue closed")
)

// Gateway identifies the e-file endpoint a submission is bound for.
type Gateway string

const (
	// GatewayMeF is the IRS Modernized e-File federal gateway.
	GatewayMeF Gateway = "mef"

	// GatewayIFile is the Maryland iFile state gateway.
	GatewayIFile Gateway = "ifile"
)

// Valid reports whether the gateway is a known endpoint.
func (g Gateway) Valid() bool {
	return g == GatewayMeF || g == GatewayIFile
}

// Priority orders submissions within the queue. Higher values are
// claimed first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name. Empty input yields
// PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidSubmission, s)
	}
}

// Status represents the lifecycle state of a submission.
type Status string

const (
	// StatusPending indicates the submission is waiting to be claimed.
	StatusPending Status = "pending"

	// StatusClaimed indicates a worker is transmitting the submission.
	StatusClaimed Status = "claimed"

	// StatusTransmitted indicates the gateway accepted the transmission
	// and issued a receipt; the submission awaits acknowledgment.
	StatusTransmitted Status = "transmitted"

	// StatusAcknowledged indicates the gateway accepted the return.
	StatusAcknowledged Status = "acknowledged"

	// StatusRejected indicates the gateway rejected the return.
	StatusRejected Status = "rejected"

	// StatusDead indicates retries were exhausted; the submission is
	// parked in the dead-letter set until a human requeues it.
	StatusDead Status = "dead"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the status ends the automated lifecycle.
// Dead submissions can still be revived through Requeue.
func (s Status) IsTerminal() bool {
	return s == StatusAcknowledged || s == StatusRejected || s == StatusDead
}

// DefaultMaxAttempts is applied when a submission is submitted with a
// zero MaxAttempts.
const DefaultMaxAttempts = 5

// Submission is a tax return queued for transmission to a gateway.
type Submission struct {
	// ID is the unique identifier, assigned on Submit if empty.
	ID string

	// IdempotencyKey deduplicates submissions. Submitting the same key
	// twice returns the original submission's ID.
	IdempotencyKey string

	// ReturnID references the tax return being filed.
	ReturnID string

	// Gateway is the e-file endpoint (mef or ifile).
	Gateway Gateway

	// Priority orders claiming among due submissions.
	Priority Priority

	// Payload is the prepared return document.
	Payload []byte

	// Status is the current lifecycle state.
	Status Status

	// Attempts counts transmission attempts so far.
	Attempts int

	// MaxAttempts caps transmission attempts before dead-lettering.
	MaxAttempts int

	// NextAttemptAt defers claiming until the backoff delay elapses.
	// Zero means due immediately.
	NextAttemptAt time.Time

	// ClaimedAt is when the submission was last claimed.
	ClaimedAt *time.Time

	// ClaimedBy is the worker ID holding the claim.
	ClaimedBy string

	// Receipt is the gateway-issued submission identifier, recorded on
	// MarkTransmitted.
	Receipt string

	// LastError is the most recent transmission or rejection error.
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone creates a deep copy of the submission.
func (s *Submission) Clone() *Submission {
	clone := *s
	if s.Payload != nil {
		clone.Payload = append([]byte(nil), s.Payload...)
	}
	if s.ClaimedAt != nil {
		claimed := *s.ClaimedAt
		clone.ClaimedAt = &claimed
	}
	return &clone
}

// Due reports whether the submission's backoff delay has elapsed.
func (s *Submission) Due(now time.Time) bool {
	return s.NextAttemptAt.IsZero() || !s.NextAttemptAt.After(now)
}

// Filter selects submissions for List.
type Filter struct {
	// Status filters by lifecycle state. Empty matches all.
	Status Status

	// Gateway filters by endpoint. Empty matches all.
	Gateway Gateway

	// Limit caps the result. Zero means the backend default (100).
	Limit int

	// Offset skips past results for paging.
	Offset int
}

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Total     int             `json:"total"`
	ByStatus  map[Status]int  `json:"by_status"`
	ByGateway map[Gateway]int `json:"by_gateway"`
}

// Manager is the submission queue. Implementations: in-memory for
// tests and development, SQLite for production.
type Manager interface {
	// Submit enqueues a submission. If the IdempotencyKey matches an
	// existing submission, the existing ID is returned and nothing is
	// enqueued.
	Submit(ctx context.Context, sub Submission) (string, error)

	// ClaimNext claims the highest-priority due pending submission,
	// FIFO within a priority. An optional gateway filter restricts
	// claiming to specific endpoints. Returns ErrNothingDue when no
	// submission is claimable.
	ClaimNext(ctx context.Context, workerID string, gateways ...Gateway) (*Submission, error)

	// MarkTransmitted records the gateway receipt and moves the claimed
	// submission to transmitted. Only the claiming worker may call it.
	MarkTransmitted(ctx context.Context, id, workerID, receipt string) error

	// MarkAcknowledged moves a transmitted submission to acknowledged.
	// Called by ack processing.
	MarkAcknowledged(ctx context.Context, id, receipt string) error

	// MarkRejected moves a submission to rejected with the gateway's
	// reason. From claimed (permanent transmit error; workerID must
	// hold the claim) or transmitted (rejecting ack; workerID ignored).
	MarkRejected(ctx context.Context, id, workerID, reason string) error

	// Fail records a transient failure on a claimed submission. The
	// submission returns to pending with an exponential-backoff
	// NextAttemptAt, or moves to dead once MaxAttempts is exhausted.
	// Only the claiming worker may call it.
	Fail(ctx context.Context, id, workerID string, cause error) error

	// Requeue revives a dead submission: back to pending, attempts
	// reset, due immediately. Human action from the admin API.
	Requeue(ctx context.Context, id string) error

	// RequeueStalled returns claimed submissions whose claim is older
	// than the visibility timeout to pending. Reports how many were
	// requeued.
	RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error)

	// Get retrieves a submission by ID.
	Get(ctx context.Context, id string) (*Submission, error)

	// GetByIdempotencyKey retrieves a submission by its idempotency key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Submission, error)

	// List returns submissions matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Submission, error)

	// Stats summarizes the queue.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases resources held by the manager.
	Close() error
}
