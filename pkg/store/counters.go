package store

import (
	"context"
	"fmt"
)

// LockCounter takes the write lock on a sequence_counters row for the rest of
// tx. In Postgres the UPDATE holds a row lock until commit or rollback; in
// SQLite it acquires the database write lock. Callers that allocate or
// compact a sequence must call it before reading the sequence.
func LockCounter(ctx context.Context, tx *Tx, name string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sequence_counters SET value = value WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("lock counter %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock counter %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock counter %s: counter row missing (run migrate)", name)
	}
	return nil
}

// CounterValue reads the stored value of a counter.
func CounterValue(ctx context.Context, q Querier, name string) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM sequence_counters WHERE name = $1`, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return v, nil
}

// SetCounter stores v as the counter's value.
func SetCounter(ctx context.Context, tx *Tx, name string, v int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE sequence_counters SET value = $2 WHERE name = $1`, name, v); err != nil {
		return fmt.Errorf("set counter %s: %w", name, err)
	}
	return nil
}
