package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Return status values.
const (
	ReturnStatusDraft    = "draft"
	ReturnStatusReady    = "ready"
	ReturnStatusFiled    = "filed"
	ReturnStatusAccepted = "accepted"
	ReturnStatusRejected = "rejected"
)

// TaxReturn is a Maryland state tax return prepared for a household.
// Monetary amounts are kept in cents to avoid float drift.
type TaxReturn struct {
	ID           string
	HouseholdID  string
	TaxYear      int
	FilingStatus string
	AGICents     int64
	RefundCents  int64
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateReturn inserts a tax return. A household can hold at most one
// return per tax year; a second insert returns ErrConflict.
func (d *DB) CreateReturn(ctx context.Context, r *TaxReturn) error {
	if r.HouseholdID == "" {
		return errors.New("store: return household id required")
	}
	if r.TaxYear == 0 {
		return errors.New("store: return tax year required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = ReturnStatusDraft
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO tax_returns (id, household_id, tax_year, filing_status, agi_cents, refund_cents, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.HouseholdID, r.TaxYear, r.FilingStatus, r.AGICents, r.RefundCents, r.Status,
		FormatTime(now), FormatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: household %s already has a %d return", ErrConflict, r.HouseholdID, r.TaxYear)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: household %s", ErrNotFound, r.HouseholdID)
		}
		return fmt.Errorf("insert return: %w", err)
	}
	return nil
}

// GetReturn fetches a tax return by ID.
func (d *DB) GetReturn(ctx context.Context, id string) (*TaxReturn, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, household_id, tax_year, filing_status, agi_cents, refund_cents, status, created_at, updated_at
		FROM tax_returns WHERE id = ?`, id)
	return scanReturn(row)
}

// ListReturns returns the tax returns of a household, newest year first.
func (d *DB) ListReturns(ctx context.Context, householdID string) ([]*TaxReturn, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, household_id, tax_year, filing_status, agi_cents, refund_cents, status, created_at, updated_at
		FROM tax_returns WHERE household_id = ? ORDER BY tax_year DESC`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()

	var out []*TaxReturn
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReturn updates the mutable fields of a tax return.
func (d *DB) UpdateReturn(ctx context.Context, r *TaxReturn) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := d.sql.ExecContext(ctx, `
		UPDATE tax_returns
		SET filing_status = ?, agi_cents = ?, refund_cents = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		r.FilingStatus, r.AGICents, r.RefundCents, r.Status, FormatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update return: %w", err)
	}
	return requireRow(res)
}

// SetReturnStatus transitions a return's filing status.
func (d *DB) SetReturnStatus(ctx context.Context, id, status string) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE tax_returns SET status = ?, updated_at = ? WHERE id = ?`,
		status, FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set return status: %w", err)
	}
	return requireRow(res)
}

// DeleteReturn removes a tax return.
func (d *DB) DeleteReturn(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM tax_returns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete return: %w", err)
	}
	return requireRow(res)
}

func scanReturn(row rowScanner) (*TaxReturn, error) {
	r := &TaxReturn{}
	var created, updated string
	err := row.Scan(&r.ID, &r.HouseholdID, &r.TaxYear, &r.FilingStatus,
		&r.AGICents, &r.RefundCents, &r.Status, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan return: %w", err)
	}
	if r.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	return r, nil
}
