package store

import (
	"fmt"
)

// CurrentSchemaVersion is the schema version this build writes.
//
// v1: core tables (households, household_members, tax_returns,
// submissions, acks, conversations)
// v2: submission claim index + conversation opt-out column
const CurrentSchemaVersion = 2

// migrations holds the SQL for each schema version, applied in order.
// Index 0 is version 1.
var migrations = []string{
	// v1: core schema
	`
CREATE TABLE IF NOT EXISTS households (
	id         TEXT PRIMARY KEY,
	phone      TEXT NOT NULL UNIQUE,
	language   TEXT NOT NULL DEFAULT 'en',
	county     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS household_members (
	id           TEXT PRIMARY KEY,
	household_id TEXT NOT NULL REFERENCES households(id) ON DELETE CASCADE,
	first_name   TEXT NOT NULL,
	last_name    TEXT NOT NULL,
	birth_date   TEXT NOT NULL DEFAULT '',
	relationship TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_members_household
	ON household_members(household_id);

CREATE TABLE IF NOT EXISTS tax_returns (
	id            TEXT PRIMARY KEY,
	household_id  TEXT NOT NULL REFERENCES households(id) ON DELETE CASCADE,
	tax_year      INTEGER NOT NULL,
	filing_status TEXT NOT NULL DEFAULT '',
	agi_cents     INTEGER NOT NULL DEFAULT 0,
	refund_cents  INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'draft',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	UNIQUE(household_id, tax_year)
);

CREATE TABLE IF NOT EXISTS submissions (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL DEFAULT '',
	return_id       TEXT NOT NULL,
	gateway         TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 1,
	payload         BLOB,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	next_attempt_at TEXT,
	claimed_at      TEXT,
	claimed_by      TEXT NOT NULL DEFAULT '',
	receipt         TEXT NOT NULL DEFAULT '',
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_idempotency
	ON submissions(idempotency_key) WHERE idempotency_key != '';

CREATE INDEX IF NOT EXISTS idx_submissions_status
	ON submissions(status);

CREATE TABLE IF NOT EXISTS acks (
	id            TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL,
	gateway       TEXT NOT NULL,
	receipt       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	code          TEXT NOT NULL DEFAULT '',
	detail        TEXT NOT NULL DEFAULT '',
	received_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_acks_submission
	ON acks(submission_id);

CREATE TABLE IF NOT EXISTS conversations (
	phone      TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	return_id  TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`,
	// v2: composite index for the claim query, SMS opt-out tracking
	`
CREATE INDEX IF NOT EXISTS idx_submissions_claim
	ON submissions(status, priority DESC, created_at);

ALTER TABLE conversations ADD COLUMN opted_out INTEGER NOT NULL DEFAULT 0;
`,
}

// Migrate applies pending schema migrations. Each version runs in its
// own transaction and bumps PRAGMA user_version on success.
func (d *DB) Migrate() error {
	var version int
	if err := d.sql.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}

	for v := version; v < CurrentSchemaVersion; v++ {
		tx, err := d.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration to v%d: %w", v+1, err)
		}
		// PRAGMA cannot be parameterized.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema version to v%d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration to v%d: %w", v+1, err)
		}
	}

	return nil
}

// SchemaVersion reports the database's current schema version.
func (d *DB) SchemaVersion() (int, error) {
	var version int
	if err := d.sql.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
