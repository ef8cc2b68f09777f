package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ack status values reported by the gateways.
const (
	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

// Ack records a gateway acknowledgment for a transmitted submission.
type Ack struct {
	ID           string
	SubmissionID string
	Gateway      string
	Receipt      string
	Status       string
	Code         string
	Detail       string
	ReceivedAt   time.Time
}

// RecordAck inserts an acknowledgment record. The ID is assigned if
// empty; ReceivedAt defaults to now.
func (d *DB) RecordAck(ctx context.Context, a *Ack) error {
	if a.SubmissionID == "" {
		return errors.New("store: ack submission id required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = time.Now().UTC()
	}

	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO acks (id, submission_id, gateway, receipt, status, code, detail, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubmissionID, a.Gateway, a.Receipt, a.Status, a.Code, a.Detail,
		FormatTime(a.ReceivedAt))
	if err != nil {
		return fmt.Errorf("insert ack: %w", err)
	}
	return nil
}

// ListAcks returns the acknowledgments recorded for a submission,
// oldest first.
func (d *DB) ListAcks(ctx context.Context, submissionID string) ([]*Ack, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, submission_id, gateway, receipt, status, code, detail, received_at
		FROM acks WHERE submission_id = ? ORDER BY received_at`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list acks: %w", err)
	}
	defer rows.Close()

	var out []*Ack
	for rows.Next() {
		a := &Ack{}
		var received string
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.Gateway, &a.Receipt,
			&a.Status, &a.Code, &a.Detail, &received); err != nil {
			return nil, fmt.Errorf("scan ack: %w", err)
		}
		if a.ReceivedAt, err = ParseTime(received); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
