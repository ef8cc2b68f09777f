package queue

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryManager implements Manager with in-process storage. Useful for
// tests and single-process development; production uses SQLiteManager.
type MemoryManager struct {
	mu     sync.Mutex
	subs   map[string]*Submission
	idem   map[string]string // idempotency key -> submission ID
	closed atomic.Bool

	backoff     Backoff
	maxAttempts int
	now         func() time.Time
	idGen       func() string
}

// Option configures a manager.
type Option func(*options)

type options struct {
	backoff     Backoff
	maxAttempts int
	now         func() time.Time
	idGen       func() string
}

// WithBackoff sets the retry backoff schedule.
func WithBackoff(b Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithMaxAttempts sets the attempt limit applied to submissions that
// do not specify their own.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithClock sets the time source. Used by tests to control due times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator sets a custom ID generator function.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.idGen = gen }
}

func buildOptions(opts []Option) options {
	o := options{
		backoff:     DefaultBackoff(),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		idGen:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemoryManager creates an in-memory submission queue.
func NewMemoryManager(opts ...Option) *MemoryManager {
	o := buildOptions(opts)
	return &MemoryManager{
		subs:        make(map[string]*Submission),
		idem:        make(map[string]string),
		backoff:     o.backoff,
		maxAttempts: o.maxAttempts,
		now:         o.now,
		idGen:       o.idGen,
	}
}

// Submit enqueues a submission, deduplicating on IdempotencyKey.
func (m *MemoryManager) Submit(ctx context.Context, sub Submission) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	if err := validateSubmission(&sub); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.IdempotencyKey != "" {
		if existing, ok := m.idem[sub.IdempotencyKey]; ok {
			return existing, nil
		}
	}

	prepareForInsert(&sub, m.idGen, m.maxAttempts, m.now())
	m.subs[sub.ID] = &sub
	if sub.IdempotencyKey != "" {
		m.idem[sub.IdempotencyKey] = sub.ID
	}

	return sub.ID, nil
}

// ClaimNext claims the highest-priority due pending submission.
func (m *MemoryManager) ClaimNext(ctx context.Context, workerID string, gateways ...Gateway) (*Submission, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if workerID == "" {
		return nil, ErrInvalidWorkerID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var best *Submission
	for _, s := range m.subs {
		if s.Status != StatusPending || !s.Due(now) {
			continue
		}
		if !gatewayMatches(s.Gateway, gateways) {
			continue
		}
		if best == nil || claimBefore(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNothingDue
	}

	claimed := now
	best.Status = StatusClaimed
	best.ClaimedAt = &claimed
	best.ClaimedBy = workerID
	best.Attempts++
	best.UpdatedAt = now

	return best.Clone(), nil
}

// claimBefore reports whether a should be claimed before b: higher
// priority first, then FIFO on creation time.
func claimBefore(a, b *Submission) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func gatewayMatches(g Gateway, filter []Gateway) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if g == f {
			return true
		}
	}
	return false
}

// MarkTransmitted records the gateway receipt.
func (m *MemoryManager) MarkTransmitted(ctx context.Context, id, workerID, receipt string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if err := requireClaim(s, workerID); err != nil {
		return err
	}

	s.Status = StatusTransmitted
	s.Receipt = receipt
	s.ClaimedBy = ""
	s.ClaimedAt = nil
	s.LastError = ""
	s.UpdatedAt = m.now()
	return nil
}

// MarkAcknowledged moves a transmitted submission to acknowledged.
func (m *MemoryManager) MarkAcknowledged(ctx context.Context, id, receipt string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status == StatusAcknowledged {
		return nil // idempotent
	}
	if s.Status != StatusTransmitted {
		return ErrNotTransmitted
	}

	s.Status = StatusAcknowledged
	if receipt != "" {
		s.Receipt = receipt
	}
	s.UpdatedAt = m.now()
	return nil
}

// MarkRejected moves a submission to rejected.
func (m *MemoryManager) MarkRejected(ctx context.Context, id, workerID, reason string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}

	switch s.Status {
	case StatusRejected:
		return nil // idempotent
	case StatusClaimed:
		if err := requireClaim(s, workerID); err != nil {
			return err
		}
	case StatusTransmitted:
		// Ack processing path; no claim to check.
	default:
		return ErrTerminal
	}

	s.Status = StatusRejected
	s.LastError = reason
	s.ClaimedBy = ""
	s.ClaimedAt = nil
	s.UpdatedAt = m.now()
	return nil
}

// Fail records a transient failure: retry with backoff, or dead-letter
// once MaxAttempts is exhausted.
func (m *MemoryManager) Fail(ctx context.Context, id, workerID string, cause error) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if err := requireClaim(s, workerID); err != nil {
		return err
	}

	now := m.now()
	if cause != nil {
		s.LastError = cause.Error()
	}
	s.ClaimedBy = ""
	s.ClaimedAt = nil
	s.UpdatedAt = now

	if s.Attempts >= s.MaxAttempts {
		s.Status = StatusDead
		s.NextAttemptAt = time.Time{}
		return nil
	}

	s.Status = StatusPending
	s.NextAttemptAt = m.backoff.NextAttempt(now, s.Attempts)
	return nil
}

// Requeue revives a dead submission.
func (m *MemoryManager) Requeue(ctx context.Context, id string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusDead {
		return ErrNotDead
	}

	s.Status = StatusPending
	s.Attempts = 0
	s.NextAttemptAt = time.Time{}
	s.LastError = ""
	s.UpdatedAt = m.now()
	return nil
}

// RequeueStalled returns expired claims to pending.
func (m *MemoryManager) RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-olderThan)
	requeued := 0
	for _, s := range m.subs {
		if s.Status != StatusClaimed || s.ClaimedAt == nil || s.ClaimedAt.After(cutoff) {
			continue
		}
		s.Status = StatusPending
		s.ClaimedBy = ""
		s.ClaimedAt = nil
		s.UpdatedAt = now
		requeued++
	}
	return requeued, nil
}

// Get retrieves a submission by ID.
func (m *MemoryManager) Get(ctx context.Context, id string) (*Submission, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// GetByIdempotencyKey retrieves a submission by its idempotency key.
func (m *MemoryManager) GetByIdempotencyKey(ctx context.Context, key string) (*Submission, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.idem[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.subs[id].Clone(), nil
}

// List returns submissions matching the filter, newest first.
func (m *MemoryManager) List(ctx context.Context, f Filter) ([]*Submission, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*Submission
	for _, s := range m.subs {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Gateway != "" && s.Gateway != f.Gateway {
			continue
		}
		matched = append(matched, s)
	}

	// Tie-break on ID so paging with Offset never skips or repeats
	// submissions created in the same instant.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Submission, len(matched))
	for i, s := range matched {
		out[i] = s.Clone()
	}
	return out, nil
}

// Stats summarizes the queue.
func (m *MemoryManager) Stats(ctx context.Context) (*Stats, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := &Stats{
		ByStatus:  make(map[Status]int),
		ByGateway: make(map[Gateway]int),
	}
	for _, s := range m.subs {
		st.Total++
		st.ByStatus[s.Status]++
		st.ByGateway[s.Gateway]++
	}
	return st, nil
}

// Close releases the manager.
func (m *MemoryManager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	m.subs = nil
	m.idem = nil
	m.mu.Unlock()
	return nil
}

// validateSubmission checks required fields and applies defaults.
func validateSubmission(s *Submission) error {
	if len(s.Payload) == 0 {
		return ErrInvalidSubmission
	}
	if s.ReturnID == "" {
		return ErrInvalidSubmission
	}
	if !s.Gateway.Valid() {
		return ErrInvalidSubmission
	}
	return nil
}

// prepareForInsert normalizes a validated submission for storage.
func prepareForInsert(s *Submission, idGen func() string, defaultMax int, now time.Time) {
	if s.ID == "" {
		s.ID = idGen()
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultMax
	}
	s.Status = StatusPending
	s.Attempts = 0
	s.ClaimedAt = nil
	s.ClaimedBy = ""
	s.Receipt = ""
	s.LastError = ""
	s.NextAttemptAt = time.Time{}
	s.CreatedAt = now
	s.UpdatedAt = now
}

// requireClaim verifies the submission is claimed by the given worker.
func requireClaim(s *Submission, workerID string) error {
	switch s.Status {
	case StatusPending:
		return ErrNotClaimed
	case StatusClaimed:
		if workerID == "" {
			return ErrInvalidWorkerID
		}
		if s.ClaimedBy != workerID {
			return ErrWrongWorker
		}
		return nil
	case StatusTransmitted:
		return ErrNotClaimed
	default:
		return ErrTerminal
	}
}
