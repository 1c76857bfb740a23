package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecsachurch/registry/pkg/archive"
	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

var memberCols = []string{
	"id", "palo", "given_name", "family_name",
	"receipt_2024", "receipt_2025", "receipt_2026", "receipt_2027", "receipt_2028", "receipt_2029", "receipt_2030",
	"created_at", "updated_at",
}

func newMock(t *testing.T) (*store.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return store.Wrap(mockDB, store.Postgres), mock
}

func expectArchiveUpToRenumber(mock sqlmock.Sqlmock) {
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sequence_counters SET value = value WHERE name = \$1`).
		WithArgs(store.CounterMembers).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, palo, given_name, family_name, .* FROM members WHERE palo = \$1 FOR UPDATE`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow("m-2", 2, "Bongani", "Mokoena", nil, "R-1", nil, nil, nil, nil, nil, now, now))
	mock.ExpectExec(`UPDATE sequence_counters SET value = value WHERE name = \$1`).
		WithArgs(store.CounterArchiveMembers).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT value FROM sequence_counters WHERE name = \$1`).
		WithArgs(store.CounterArchiveMembers).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(4))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(palo\), 0\) FROM archives WHERE record_type = \$1`).
		WithArgs("member").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectExec(`UPDATE sequence_counters SET value = \$2 WHERE name = \$1`).
		WithArgs(store.CounterArchiveMembers, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO archives \(id, record_type, details, palo, archived_at\)`).
		WithArgs(sqlmock.AnyArg(), "member", `{"given_name":"Bongani","family_name":"Mokoena","status":"Moved","receipts":{"2025":"R-1"}}`, 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM members WHERE id = \$1`).
		WithArgs("m-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE members SET palo = -palo WHERE palo > \$1`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestArchiveMember_StatementOrder(t *testing.T) {
	db, mock := newMock(t)

	expectArchiveUpToRenumber(mock)
	mock.ExpectExec(`UPDATE members SET palo = -palo - 1 WHERE palo < 0`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SAVEPOINT audit_entry`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO action_logs`).
		WithArgs(sqlmock.AnyArg(), "u1", audit.ActionArchiveMember, `{"archive_palo":5,"member_id":"m-2","palo":2,"status":"Moved"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`RELEASE SAVEPOINT audit_entry`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	svc := archive.NewService(db, audit.NewSQLLogger(db, nil))
	res, err := svc.ArchiveMember(context.Background(), "u1", 2, "Moved")
	require.NoError(t, err)
	assert.Equal(t, 5, res.ArchivePalo, "archive counter wins over the highest stored archive palo")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveMember_RenumberFailureRollsBack(t *testing.T) {
	db, mock := newMock(t)

	expectArchiveUpToRenumber(mock)
	mock.ExpectExec(`UPDATE members SET palo = -palo - 1 WHERE palo < 0`).
		WillReturnError(errors.New("could not serialize access"))
	mock.ExpectRollback()

	svc := archive.NewService(db, audit.NewSQLLogger(db, nil))
	_, err := svc.ArchiveMember(context.Background(), "u1", 2, "Moved")
	var sf *domain.StorageFault
	require.ErrorAs(t, err, &sf)
	require.NoError(t, mock.ExpectationsWereMet(), "no audit entry and no commit after a failed renumber")
}

func TestArchiveMember_InvalidStatusTouchesNothing(t *testing.T) {
	db, mock := newMock(t)

	svc := archive.NewService(db, nil)
	_, err := svc.ArchiveMember(context.Background(), "u1", 2, "Retired")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestore_UnsupportedKindRollsBack(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE sequence_counters SET value = value WHERE name = \$1`).
		WithArgs(store.CounterMembers).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, record_type, details, palo, archived_at FROM archives WHERE id = \$1 FOR UPDATE`).
		WithArgs("arch-b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "record_type", "details", "palo", "archived_at"}).
			AddRow("arch-b", "baptism", []byte(`{"first_name":"Neo"}`), nil, time.Now()))
	mock.ExpectRollback()

	svc := archive.NewService(db, nil)
	_, err := svc.Restore(context.Background(), "u1", "arch-b")
	require.ErrorIs(t, err, domain.ErrUnsupportedKind)
	require.NoError(t, mock.ExpectationsWereMet())
}
