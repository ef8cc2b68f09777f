package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Household is a benefits-navigator household keyed by its phone number.
type Household struct {
	ID        string
	Phone     string
	Language  string
	County    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member is a person belonging to a household.
type Member struct {
	ID           string
	HouseholdID  string
	FirstName    string
	LastName     string
	BirthDate    string // YYYY-MM-DD
	Relationship string
}

// CreateHousehold inserts a household. The ID is assigned if empty.
// Returns ErrConflict if the phone number is already registered.
func (d *DB) CreateHousehold(ctx context.Context, h *Household) error {
	if h.Phone == "" {
		return errors.New("store: household phone required")
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Language == "" {
		h.Language = "en"
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO households (id, phone, language, county, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.Phone, h.Language, h.County, FormatTime(now), FormatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: phone %s already registered", ErrConflict, h.Phone)
		}
		return fmt.Errorf("insert household: %w", err)
	}
	return nil
}

// GetHousehold fetches a household by ID.
func (d *DB) GetHousehold(ctx context.Context, id string) (*Household, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, phone, language, county, created_at, updated_at
		FROM households WHERE id = ?`, id)
	return scanHousehold(row)
}

// GetHouseholdByPhone fetches a household by phone number.
func (d *DB) GetHouseholdByPhone(ctx context.Context, phone string) (*Household, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, phone, language, county, created_at, updated_at
		FROM households WHERE phone = ?`, phone)
	return scanHousehold(row)
}

// ListHouseholds returns households ordered by creation time.
func (d *DB) ListHouseholds(ctx context.Context, limit, offset int) ([]*Household, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, phone, language, county, created_at, updated_at
		FROM households ORDER BY created_at LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	var out []*Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHousehold updates the mutable fields of a household.
func (d *DB) UpdateHousehold(ctx context.Context, h *Household) error {
	h.UpdatedAt = time.Now().UTC()
	res, err := d.sql.ExecContext(ctx, `
		UPDATE households SET language = ?, county = ?, updated_at = ?
		WHERE id = ?`,
		h.Language, h.County, FormatTime(h.UpdatedAt), h.ID)
	if err != nil {
		return fmt.Errorf("update household: %w", err)
	}
	return requireRow(res)
}

// DeleteHousehold removes a household and cascades to its members and
// tax returns.
func (d *DB) DeleteHousehold(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM households WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	return requireRow(res)
}

// AddMember inserts a household member. The ID is assigned if empty.
func (d *DB) AddMember(ctx context.Context, m *Member) error {
	if m.HouseholdID == "" {
		return errors.New("store: member household id required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO household_members (id, household_id, first_name, last_name, birth_date, relationship)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.HouseholdID, m.FirstName, m.LastName, m.BirthDate, m.Relationship)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: household %s", ErrNotFound, m.HouseholdID)
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// ListMembers returns the members of a household.
func (d *DB) ListMembers(ctx context.Context, householdID string) ([]*Member, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, household_id, first_name, last_name, birth_date, relationship
		FROM household_members WHERE household_id = ? ORDER BY last_name, first_name`,
		householdID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.HouseholdID, &m.FirstName, &m.LastName, &m.BirthDate, &m.Relationship); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMember removes a household member.
func (d *DB) DeleteMember(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM household_members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHousehold(row rowScanner) (*Household, error) {
	h := &Household{}
	var created, updated string
	err := row.Scan(&h.ID, &h.Phone, &h.Language, &h.County, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan household: %w", err)
	}
	if h.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	return h, nil
}

// requireRow converts a zero-row update/delete into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SQLite error text inspection. modernc.org/sqlite wraps the extended
// result codes in the error message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
