package store

import (
	"context"
	"fmt"
	"strings"
)

// Counter names in sequence_counters.
const (
	CounterMembers        = "members"
	CounterArchiveMembers = "archive_members"
)

// ReceiptYears are the calendar years that carry a receipt column on members.
var ReceiptYears = []string{"2024", "2025", "2026", "2027", "2028", "2029", "2030"}

func receiptColumnsDDL() string {
	cols := make([]string, 0, len(ReceiptYears))
	for _, y := range ReceiptYears {
		cols = append(cols, fmt.Sprintf("\treceipt_%s TEXT,", y))
	}
	return strings.Join(cols, "\n")
}

// schema is written once with {{ts}} and {{json}} standing in for the
// dialect's timestamp and document column types.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'user',
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS members (
	id TEXT PRIMARY KEY,
	palo INTEGER NOT NULL UNIQUE,
	given_name TEXT NOT NULL,
	family_name TEXT NOT NULL,
{{receipts}}
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS archives (
	id TEXT PRIMARY KEY,
	record_type TEXT NOT NULL,
	details {{json}} NOT NULL,
	palo INTEGER,
	archived_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS archives_archived_at_idx ON archives (archived_at);

CREATE TABLE IF NOT EXISTS action_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	details {{json}} NOT NULL,
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS baptisms (
	id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	middle_name TEXT,
	surname TEXT NOT NULL,
	date_of_birth TEXT NOT NULL,
	father_first_name TEXT NOT NULL,
	father_middle_name TEXT,
	father_surname TEXT NOT NULL,
	mother_first_name TEXT NOT NULL,
	mother_middle_name TEXT,
	mother_surname TEXT NOT NULL,
	baptism_date TEXT NOT NULL,
	pastor TEXT NOT NULL,
	archived BOOLEAN NOT NULL DEFAULT FALSE,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS weddings (
	id TEXT PRIMARY KEY,
	groom_first_name TEXT NOT NULL,
	groom_middle_name TEXT,
	groom_surname TEXT NOT NULL,
	groom_id_number TEXT,
	bride_first_name TEXT NOT NULL,
	bride_middle_name TEXT,
	bride_surname TEXT NOT NULL,
	bride_id_number TEXT,
	wedding_date TEXT NOT NULL,
	pastor TEXT NOT NULL,
	location TEXT NOT NULL,
	archived BOOLEAN NOT NULL DEFAULT FALSE,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS sequence_counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	cached_at {{ts}} NOT NULL
);

INSERT INTO sequence_counters (name, value) VALUES ('members', 0) ON CONFLICT (name) DO NOTHING;
INSERT INTO sequence_counters (name, value) VALUES ('archive_members', 0) ON CONFLICT (name) DO NOTHING;
`

// Schema returns the DDL for the dialect.
func (d Dialect) Schema() string {
	ts, doc := "TIMESTAMPTZ", "JSONB"
	if d == SQLite {
		ts, doc = "DATETIME", "TEXT"
	}
	r := strings.NewReplacer("{{ts}}", ts, "{{json}}", doc, "{{receipts}}", receiptColumnsDDL())
	return r.Replace(schema)
}

// Migrate applies the schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(db.Dialect.Schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
