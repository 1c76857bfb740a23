package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

const recordColumns = `id, record_type, details, palo, archived_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		r       Record
		kind    string
		details []byte
		palo    sql.NullInt64
	)
	if err := row.Scan(&r.ID, &kind, &details, &palo, &r.ArchivedAt); err != nil {
		return Record{}, err
	}
	r.Kind = domain.Kind(kind)
	r.Details = details
	if palo.Valid {
		p := int(palo.Int64)
		r.Palo = &p
	}
	return r, nil
}

// NextArchivePalo allocates the next archive-local member number. It takes
// the archive counter lock for the rest of tx. The counter is stored, so a
// number freed by a restore is never handed out again.
func NextArchivePalo(ctx context.Context, tx *store.Tx) (int, error) {
	if err := store.LockCounter(ctx, tx, store.CounterArchiveMembers); err != nil {
		return 0, err
	}
	counter, err := store.CounterValue(ctx, tx, store.CounterArchiveMembers)
	if err != nil {
		return 0, err
	}
	var maxPalo int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(palo), 0) FROM archives WHERE record_type = $1`, string(domain.KindMember),
	).Scan(&maxPalo)
	if err != nil {
		return 0, fmt.Errorf("read archive palo: %w", err)
	}
	next := max(counter, maxPalo) + 1
	if err := store.SetCounter(ctx, tx, store.CounterArchiveMembers, next); err != nil {
		return 0, err
	}
	return int(next), nil
}

// Insert writes an archive row. palo is nil for kinds without archive numbering.
func Insert(ctx context.Context, tx *store.Tx, kind domain.Kind, details []byte, palo *int, at time.Time) (Record, error) {
	r := Record{ID: store.NewID(), Kind: kind, Details: details, Palo: palo, ArchivedAt: at}
	var p sql.NullInt64
	if palo != nil {
		p = sql.NullInt64{Int64: int64(*palo), Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO archives (`+recordColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, string(kind), string(details), p, at)
	if err != nil {
		return Record{}, fmt.Errorf("insert archive: %w", err)
	}
	return r, nil
}

// Get reads an archive row by id.
func Get(ctx context.Context, q store.Querier, id string) (Record, error) {
	return get(ctx, q, `SELECT `+recordColumns+` FROM archives WHERE id = $1`, id)
}

// GetForUpdate reads an archive row by id and locks it for the rest of tx.
func GetForUpdate(ctx context.Context, tx *store.Tx, id string) (Record, error) {
	return get(ctx, tx, `SELECT `+recordColumns+` FROM archives WHERE id = $1 FOR UPDATE`, id)
}

func get(ctx context.Context, q store.Querier, query, id string) (Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, &domain.NotFoundError{Entity: "archive record", Key: id}
	}
	if err != nil {
		return Record{}, fmt.Errorf("read archive %s: %w", id, err)
	}
	return r, nil
}

// List returns archive rows, most recently archived first. search matches
// the record type, the serialized details and the archive palo.
func List(ctx context.Context, q store.Querier, search string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM archives`
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		query += ` WHERE record_type ILIKE $1 OR CAST(details AS TEXT) ILIKE $1 OR CAST(palo AS TEXT) ILIKE $1`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY archived_at DESC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list archives: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return out, nil
}

// Delete removes an archive row. It is only used by restoration.
func Delete(ctx context.Context, tx *store.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM archives WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete archive: %w", err)
	}
	return nil
}
