package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/lecsachurch/registry/pkg/store"
)

const savepoint = "audit_entry"

// SQLLogger appends events to the action_logs table.
type SQLLogger struct {
	db       *store.DB
	mirror   *StreamLogger
	log      *slog.Logger
	failures atomic.Int64
}

// NewSQLLogger creates a logger over db. mirror may be nil.
func NewSQLLogger(db *store.DB, mirror *StreamLogger) *SQLLogger {
	return &SQLLogger{
		db:     db,
		mirror: mirror,
		log:    slog.Default().With("component", "audit"),
	}
}

// Failures is the number of events that could not be persisted.
func (l *SQLLogger) Failures() int64 { return l.failures.Load() }

// Record appends evt on its own connection.
func (l *SQLLogger) Record(ctx context.Context, evt Event) {
	if err := l.insert(ctx, l.db, evt); err != nil {
		l.fail(ctx, evt, err)
		return
	}
	l.mirrorEvent(evt)
}

// RecordTx appends evt inside tx under a savepoint. If the insert fails the
// savepoint is rolled back and tx stays usable, so the caller can still
// commit its own work.
func (l *SQLLogger) RecordTx(ctx context.Context, tx *store.Tx, evt Event) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		l.fail(ctx, evt, fmt.Errorf("savepoint: %w", err))
		return
	}
	if err := l.insert(ctx, tx, evt); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			err = fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		l.fail(ctx, evt, err)
		return
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		l.fail(ctx, evt, fmt.Errorf("release savepoint: %w", err))
		return
	}
	l.mirrorEvent(evt)
}

func (l *SQLLogger) insert(ctx context.Context, q store.Querier, evt Event) error {
	details, err := CanonicalDetails(evt.Details)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO action_logs (id, user_id, action, details, created_at) VALUES ($1, $2, $3, $4, $5)`,
		evt.ID, evt.ActorID, evt.Action, string(details), evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	return nil
}

func (l *SQLLogger) fail(ctx context.Context, evt Event, err error) {
	l.failures.Add(1)
	l.log.ErrorContext(ctx, "audit write failed",
		"action", evt.Action, "actor_id", evt.ActorID, "event_id", evt.ID, "error", err)
}

func (l *SQLLogger) mirrorEvent(evt Event) {
	if l.mirror != nil {
		_ = l.mirror.Write(evt)
	}
}

// CanonicalDetails renders details as RFC 8785 JSON. Nil details become {}.
func CanonicalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit details: %w", err)
	}
	return out, nil
}

// Entry is a stored action log row joined with the actor's username.
type Entry struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"user_id"`
	Username  string          `json:"username,omitempty"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// Query selects action log rows. Zero values mean unbounded.
type Query struct {
	From  time.Time
	To    time.Time
	Limit int
}

// List returns entries newest first.
func (l *SQLLogger) List(ctx context.Context, q Query) ([]Entry, error) {
	from, to := q.From, q.To
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT a.id, a.user_id, COALESCE(u.username, ''), a.action, a.details, a.created_at
		 FROM action_logs a LEFT JOIN users u ON u.id = a.user_id
		 WHERE a.created_at >= $1 AND a.created_at <= $2
		 ORDER BY a.created_at DESC, a.id
		 LIMIT $3`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Username, &e.Action, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		e.Details = json.RawMessage(details)
		out = append(out, e)
	}
	return out, rows.Err()
}
