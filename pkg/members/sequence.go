package members

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lecsachurch/registry/pkg/store"
)

// Sequence maintains the dense 1..N palo numbering of live members.
//
// Every transaction that allocates or compacts palos must call Lock first.
// Lock serializes those transactions on the members counter row, so two
// allocations can never observe the same maximum and two compactions can
// never renumber from a stale snapshot.
type Sequence struct{}

// Lock takes the member sequence lock for the rest of tx.
func (Sequence) Lock(ctx context.Context, tx *store.Tx) error {
	return store.LockCounter(ctx, tx, store.CounterMembers)
}

// AllocateNext returns max(palo)+1 over positive palos, or 1 when there are
// no members. The caller must hold Lock and insert the member in the same tx.
func (Sequence) AllocateNext(ctx context.Context, tx *store.Tx) (int, error) {
	var maxPalo int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(palo), 0) FROM members WHERE palo > 0`).Scan(&maxPalo)
	if err != nil {
		return 0, fmt.Errorf("allocate palo: %w", err)
	}
	return maxPalo + 1, nil
}

// CompactAfterRemoval closes the gap left by a removed palo: every member
// above it moves down by one and members below are untouched. The caller
// must hold Lock and have deleted the member already.
//
// The shift runs as two bulk updates through negative values so the unique
// palo constraint holds after every row, whatever order the engine visits
// rows in. When nothing sits above the removed palo the second update is
// skipped.
func (Sequence) CompactAfterRemoval(ctx context.Context, tx *store.Tx, removed int) error {
	res, err := tx.ExecContext(ctx, `UPDATE members SET palo = -palo WHERE palo > $1`, removed)
	if err != nil {
		return fmt.Errorf("renumber members: %w", err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renumber members: %w", err)
	}
	if moved == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE members SET palo = -palo - 1 WHERE palo < 0`); err != nil {
		return fmt.Errorf("renumber members: %w", err)
	}
	slog.DebugContext(ctx, "members renumbered", "component", "members", "removed_palo", removed, "moved", moved)
	return nil
}
