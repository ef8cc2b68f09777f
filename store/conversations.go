package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Conversation is the per-phone SMS flow state. The state string is
// owned by the sms package; the store only persists it.
type Conversation struct {
	Phone     string
	State     string
	ReturnID  string
	OptedOut  bool
	UpdatedAt time.Time
}

// GetConversation fetches the conversation state for a phone number.
func (d *DB) GetConversation(ctx context.Context, phone string) (*Conversation, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT phone, state, return_id, opted_out, updated_at
		FROM conversations WHERE phone = ?`, phone)

	c := &Conversation{}
	var updated string
	var optedOut int
	err := row.Scan(&c.Phone, &c.State, &c.ReturnID, &optedOut, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.OptedOut = optedOut != 0
	if c.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	return c, nil
}

// PutConversation upserts the conversation state for a phone number.
func (d *DB) PutConversation(ctx context.Context, c *Conversation) error {
	c.UpdatedAt = time.Now().UTC()
	optedOut := 0
	if c.OptedOut {
		optedOut = 1
	}
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO conversations (phone, state, return_id, opted_out, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			state = excluded.state,
			return_id = excluded.return_id,
			opted_out = excluded.opted_out,
			updated_at = excluded.updated_at`,
		c.Phone, c.State, c.ReturnID, optedOut, FormatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation state for a phone number.
// Deleting a missing conversation is not an error.
func (d *DB) DeleteConversation(ctx context.Context, phone string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM conversations WHERE phone = ?`, phone)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
