package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mdtaxnav/navigator/store"
)

// SQLiteManager implements Manager on the submissions table of the
// relational store. Claims are transactional, so a single database
// serves multiple worker goroutines.
type SQLiteManager struct {
	db          *store.DB
	backoff     Backoff
	maxAttempts int
	now         func() time.Time
	idGen       func() string
}

// NewSQLiteManager creates a durable submission queue over the store.
func NewSQLiteManager(db *store.DB, opts ...Option) *SQLiteManager {
	o := buildOptions(opts)
	return &SQLiteManager{
		db:          db,
		backoff:     o.backoff,
		maxAttempts: o.maxAttempts,
		now:         o.now,
		idGen:       o.idGen,
	}
}

const submissionColumns = `id, idempotency_key, return_id, gateway, priority, payload,
	status, attempts, max_attempts, next_attempt_at, claimed_at, claimed_by,
	receipt, last_error, created_at, updated_at`

// Submit enqueues a submission, deduplicating on IdempotencyKey.
func (m *SQLiteManager) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := validateSubmission(&sub); err != nil {
		return "", err
	}

	if sub.IdempotencyKey != "" {
		existing, err := m.GetByIdempotencyKey(ctx, sub.IdempotencyKey)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	prepareForInsert(&sub, m.idGen, m.maxAttempts, m.now())

	_, err := m.db.SQL().ExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, '', '', '', ?, ?)`,
		sub.ID, sub.IdempotencyKey, sub.ReturnID, string(sub.Gateway), int(sub.Priority),
		sub.Payload, string(sub.Status), sub.Attempts, sub.MaxAttempts,
		store.FormatTime(sub.CreatedAt), store.FormatTime(sub.UpdatedAt))
	if err != nil {
		// A concurrent Submit with the same key can win the race; fall
		// back to the winner's ID.
		if sub.IdempotencyKey != "" {
			if existing, lookupErr := m.GetByIdempotencyKey(ctx, sub.IdempotencyKey); lookupErr == nil {
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("insert submission: %w", err)
	}

	return sub.ID, nil
}

// ClaimNext claims the highest-priority due pending submission.
func (m *SQLiteManager) ClaimNext(ctx context.Context, workerID string, gateways ...Gateway) (*Submission, error) {
	if workerID == "" {
		return nil, ErrInvalidWorkerID
	}

	now := m.now()

	tx, err := m.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE status = 'pending'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`
	args := []any{store.FormatTime(now)}

	if len(gateways) > 0 {
		query += ` AND gateway IN (?` + repeatPlaceholder(len(gateways)-1) + `)`
		for _, g := range gateways {
			args = append(args, string(g))
		}
	}
	query += ` ORDER BY priority DESC, created_at LIMIT 1`

	sub, err := scanSubmission(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNothingDue
	}
	if err != nil {
		return nil, err
	}

	claimed := now
	sub.Status = StatusClaimed
	sub.ClaimedAt = &claimed
	sub.ClaimedBy = workerID
	sub.Attempts++
	sub.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE submissions
		SET status = 'claimed', claimed_at = ?, claimed_by = ?, attempts = ?, updated_at = ?
		WHERE id = ?`,
		store.FormatTime(claimed), workerID, sub.Attempts, store.FormatTime(now), sub.ID)
	if err != nil {
		return nil, fmt.Errorf("claim submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return sub, nil
}

// MarkTransmitted records the gateway receipt.
func (m *SQLiteManager) MarkTransmitted(ctx context.Context, id, workerID, receipt string) error {
	return m.withSubmission(ctx, id, func(tx *sql.Tx, s *Submission) error {
		if err := requireClaim(s, workerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = 'transmitted', receipt = ?, claimed_at = NULL, claimed_by = '',
			    last_error = '', updated_at = ?
			WHERE id = ?`,
			receipt, store.FormatTime(m.now()), id)
		return err
	})
}

// MarkAcknowledged moves a transmitted submission to acknowledged.
func (m *SQLiteManager) MarkAcknowledged(ctx context.Context, id, receipt string) error {
	return m.withSubmission(ctx, id, func(tx *sql.Tx, s *Submission) error {
		if s.Status == StatusAcknowledged {
			return nil // idempotent
		}
		if s.Status != StatusTransmitted {
			return ErrNotTransmitted
		}
		if receipt == "" {
			receipt = s.Receipt
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = 'acknowledged', receipt = ?, updated_at = ?
			WHERE id = ?`,
			receipt, store.FormatTime(m.now()), id)
		return err
	})
}

// MarkRejected moves a submission to rejected.
func (m *SQLiteManager) MarkRejected(ctx context.Context, id, workerID, reason string) error {
	return m.withSubmission(ctx, id, func(tx *sql.Tx, s *Submission) error {
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
		_, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = 'rejected', last_error = ?, claimed_at = NULL, claimed_by = '',
			    updated_at = ?
			WHERE id = ?`,
			reason, store.FormatTime(m.now()), id)
		return err
	})
}

// Fail records a transient failure: retry with backoff, or dead-letter
// once MaxAttempts is exhausted.
func (m *SQLiteManager) Fail(ctx context.Context, id, workerID string, cause error) error {
	return m.withSubmission(ctx, id, func(tx *sql.Tx, s *Submission) error {
		if err := requireClaim(s, workerID); err != nil {
			return err
		}

		now := m.now()
		lastError := s.LastError
		if cause != nil {
			lastError = cause.Error()
		}

		if s.Attempts >= s.MaxAttempts {
			_, err := tx.ExecContext(ctx, `
				UPDATE submissions
				SET status = 'dead', last_error = ?, claimed_at = NULL, claimed_by = '',
				    next_attempt_at = NULL, updated_at = ?
				WHERE id = ?`,
				lastError, store.FormatTime(now), id)
			return err
		}

		next := m.backoff.NextAttempt(now, s.Attempts)
		_, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = 'pending', last_error = ?, claimed_at = NULL, claimed_by = '',
			    next_attempt_at = ?, updated_at = ?
			WHERE id = ?`,
			lastError, store.FormatTime(next), store.FormatTime(now), id)
		return err
	})
}

// Requeue revives a dead submission.
func (m *SQLiteManager) Requeue(ctx context.Context, id string) error {
	return m.withSubmission(ctx, id, func(tx *sql.Tx, s *Submission) error {
		if s.Status != StatusDead {
			return ErrNotDead
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE submissions
			SET status = 'pending', attempts = 0, next_attempt_at = NULL,
			    last_error = '', updated_at = ?
			WHERE id = ?`,
			store.FormatTime(m.now()), id)
		return err
	})
}

// RequeueStalled returns expired claims to pending.
func (m *SQLiteManager) RequeueStalled(ctx context.Context, olderThan time.Duration) (int, error) {
	now := m.now()
	cutoff := now.Add(-olderThan)

	res, err := m.db.SQL().ExecContext(ctx, `
		UPDATE submissions
		SET status = 'pending', claimed_at = NULL, claimed_by = '', updated_at = ?
		WHERE status = 'claimed' AND claimed_at <= ?`,
		store.FormatTime(now), store.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Get retrieves a submission by ID.
func (m *SQLiteManager) Get(ctx context.Context, id string) (*Submission, error) {
	row := m.db.SQL().QueryRowContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	return scanSubmission(row)
}

// GetByIdempotencyKey retrieves a submission by its idempotency key.
func (m *SQLiteManager) GetByIdempotencyKey(ctx context.Context, key string) (*Submission, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	row := m.db.SQL().QueryRowContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE idempotency_key = ?`, key)
	return scanSubmission(row)
}

// List returns submissions matching the filter, newest first.
func (m *SQLiteManager) List(ctx context.Context, f Filter) ([]*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Gateway != "" {
		query += ` AND gateway = ?`
		args = append(args, string(f.Gateway))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := m.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stats summarizes the queue.
func (m *SQLiteManager) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:  make(map[Status]int),
		ByGateway: make(map[Gateway]int),
	}

	rows, err := m.db.SQL().QueryContext(ctx, `
		SELECT status, gateway, COUNT(*) FROM submissions GROUP BY status, gateway`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, gateway string
		var count int
		if err := rows.Scan(&status, &gateway, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.Total += count
		st.ByStatus[Status(status)] += count
		st.ByGateway[Gateway(gateway)] += count
	}
	return st, rows.Err()
}

// Close is a no-op; the store owns the database handle.
func (m *SQLiteManager) Close() error {
	return nil
}

// withSubmission loads a submission inside a transaction and applies fn.
func (m *SQLiteManager) withSubmission(ctx context.Context, id string, fn func(*sql.Tx, *Submission) error) error {
	tx, err := m.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	s, err := scanSubmission(tx.QueryRowContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if err != nil {
		return err
	}

	if err := fn(tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func scanSubmission(row interface{ Scan(...any) error }) (*Submission, error) {
	s := &Submission{}
	var gateway, status string
	var priority int
	var nextAttempt, claimedAt sql.NullString
	var created, updated string

	err := row.Scan(&s.ID, &s.IdempotencyKey, &s.ReturnID, &gateway, &priority, &s.Payload,
		&status, &s.Attempts, &s.MaxAttempts, &nextAttempt, &claimedAt, &s.ClaimedBy,
		&s.Receipt, &s.LastError, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}

	s.Gateway = Gateway(gateway)
	s.Priority = Priority(priority)
	s.Status = Status(status)

	if s.NextAttemptAt, err = store.ParseNullTime(nextAttempt); err != nil {
		return nil, err
	}
	if claimedAt.Valid {
		t, err := store.ParseTime(claimedAt.String)
		if err != nil {
			return nil, err
		}
		s.ClaimedAt = &t
	}
	if s.CreatedAt, err = store.ParseTime(created); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return nil, err
	}
	return s, nil
}

// repeatPlaceholder returns n copies of ", ?".
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
