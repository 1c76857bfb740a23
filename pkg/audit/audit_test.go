package audit_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/store"
	"github.com/lecsachurch/registry/pkg/store/storetest"
)

func TestStreamLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewStreamLogger(&buf)

	evt := audit.NewEvent("", audit.ActionArchiveMember, map[string]any{"palo": 2})
	require.NoError(t, logger.Write(evt))

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	var decoded audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))), &decoded))
	assert.Equal(t, "system", decoded.ActorID)
	assert.Equal(t, audit.ActionArchiveMember, decoded.Action)
	assert.Len(t, decoded.ID, 36)
	assert.EqualValues(t, 2, decoded.Details["palo"])
}

func TestCanonicalDetails_SortsKeys(t *testing.T) {
	out, err := audit.CanonicalDetails(map[string]any{"status": "Moved", "archive_palo": 1, "palo": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"archive_palo":1,"palo":2,"status":"Moved"}`, string(out))

	out, err = audit.CanonicalDetails(nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
}

func TestSQLLogger_RecordAndList(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()
	storetest.Exec(t, db, `INSERT INTO users (id, username, password_hash, role, created_at) VALUES ('u1', 'mpho', 'x', 'admin', $1)`, time.Now().UTC())

	var mirror bytes.Buffer
	logger := audit.NewSQLLogger(db, audit.NewStreamLogger(&mirror))

	older := audit.NewEvent("u1", audit.ActionAddMember, map[string]any{"palo": 1})
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	logger.Record(ctx, older)
	logger.Record(ctx, audit.NewEvent("ghost", audit.ActionArchiveMember, map[string]any{"palo": 1, "status": "Moved"}))

	entries, err := logger.List(ctx, audit.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionArchiveMember, entries[0].Action, "newest first")
	assert.Empty(t, entries[0].Username, "unknown actors have no username")
	assert.Equal(t, "mpho", entries[1].Username)
	assert.JSONEq(t, `{"palo":1}`, string(entries[1].Details))
	assert.Equal(t, 2, strings.Count(mirror.String(), "AUDIT: "))
	assert.Zero(t, logger.Failures())

	limited, err := logger.List(ctx, audit.Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLLogger_RecordTxFailureKeepsTransaction(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()
	storetest.Exec(t, db, `DROP TABLE action_logs`)

	logger := audit.NewSQLLogger(db, nil)
	err := db.RunInTx(ctx, func(tx *store.Tx) error {
		if err := store.SetCounter(ctx, tx, store.CounterArchiveMembers, 9); err != nil {
			return err
		}
		logger.RecordTx(ctx, tx, audit.NewEvent("u1", audit.ActionArchiveMember, nil))
		return nil
	})
	require.NoError(t, err)

	v, err := store.CounterValue(ctx, db, store.CounterArchiveMembers)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v, "business write committed despite audit failure")
	assert.Equal(t, int64(1), logger.Failures())
}

func TestSQLLogger_RecordTxUsesSavepoint(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()
	db := store.Wrap(mockDB, store.Postgres)
	ctx := context.Background()
	logger := audit.NewSQLLogger(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT audit_entry`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO action_logs`).WillReturnError(errors.New("disk full"))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT audit_entry`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = db.RunInTx(ctx, func(tx *store.Tx) error {
		logger.RecordTx(ctx, tx, audit.NewEvent("u1", audit.ActionRestoreMember, map[string]any{"palo": 3}))
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), logger.Failures())
}

func TestExporter_Export(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()
	logger := audit.NewSQLLogger(db, nil)
	logger.Record(ctx, audit.NewEvent("u1", audit.ActionAddBaptism, map[string]any{"id": "b1"}))

	exporter := audit.NewExporter(logger)
	zipBytes, checksum, err := exporter.Export(ctx, audit.ExportRequest{})
	require.NoError(t, err)

	sum := sha256.Sum256(zipBytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		files[f.Name] = body
	}
	require.Contains(t, files, "action_logs.json")
	require.Contains(t, files, "manifest.json")

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	assert.EqualValues(t, 1, manifest["entry_count"])
}

func TestExporter_RejectsInvertedRange(t *testing.T) {
	exporter := audit.NewExporter(nil)
	now := time.Now()
	_, _, err := exporter.Export(context.Background(), audit.ExportRequest{Start: now, End: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}
