package records_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/records"
	"github.com/lecsachurch/registry/pkg/store/storetest"
)

func validBaptism() records.BaptismFields {
	return records.BaptismFields{
		FirstName:       " Neo ",
		Surname:         "Dlamini",
		DateOfBirth:     "2023-04-01",
		FatherFirstName: "Sipho",
		FatherSurname:   "Dlamini",
		MotherFirstName: "Naledi",
		MotherSurname:   "Dlamini",
		BaptismDate:     "2024-01-14",
		Pastor:          "Rev. Molefe",
	}
}

func validWedding() records.WeddingFields {
	return records.WeddingFields{
		GroomFirstName: "Kabelo",
		GroomSurname:   "Sithole",
		BrideFirstName: "Dineo",
		BrideSurname:   "Khumalo",
		WeddingDate:    "2024-06-22",
		Pastor:         "Rev. Molefe",
		Location:       "Maseru",
	}
}

func TestBaptisms_Lifecycle(t *testing.T) {
	db := storetest.Open(t)
	logs := audit.NewSQLLogger(db, nil)
	svc := records.NewBaptisms(db, logs)
	ctx := context.Background()

	b, err := svc.Create(ctx, "u1", validBaptism())
	require.NoError(t, err)
	assert.Equal(t, "Neo", b.FirstName, "fields are trimmed")
	assert.Empty(t, b.MiddleName)

	later := validBaptism()
	later.FirstName = "Lindiwe"
	later.BaptismDate = "2024-03-10"
	later.Pastor = "Rev. Nthako"
	_, err = svc.Create(ctx, "u1", later)
	require.NoError(t, err)

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Lindiwe", all[0].FirstName, "newest baptism first")

	found, err := svc.List(ctx, "nthako")
	require.NoError(t, err)
	require.Len(t, found, 1)

	upd := validBaptism()
	upd.MiddleName = "Thato"
	updated, err := svc.Update(ctx, "u1", b.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "Thato", updated.MiddleName)

	got, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Thato", got.MiddleName)
	assert.False(t, got.Archived)

	entries, err := logs.List(ctx, audit.Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestBaptisms_Validation(t *testing.T) {
	db := storetest.Open(t)
	svc := records.NewBaptisms(db, nil)
	ctx := context.Background()

	f := validBaptism()
	f.Pastor = " "
	f.MotherSurname = ""
	_, err := svc.Create(ctx, "u1", f)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "mother_surname, pastor", ve.Field)

	f = validBaptism()
	f.BaptismDate = "14/01/2024"
	_, err = svc.Create(ctx, "u1", f)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "baptism_date", ve.Field)

	_, err = svc.Update(ctx, "u1", "missing", validBaptism())
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestBaptisms_GetFallsBackToArchive(t *testing.T) {
	db := storetest.Open(t)
	svc := records.NewBaptisms(db, nil)
	storetest.Exec(t, db,
		`INSERT INTO archives (id, record_type, details, archived_at) VALUES ('arch-b', 'baptism', $1, $2)`,
		`{"first_name":"Old","surname":"Record","baptism_date":"1990-01-01","pastor":"Rev. A"}`, time.Now().UTC())

	got, err := svc.Get(context.Background(), "arch-b")
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Equal(t, "Old", got.FirstName)
	require.NotNil(t, got.ArchivedAt)

	_, err = svc.Get(context.Background(), "nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "baptism nope not found", nf.Error())
}

func TestWeddings_Lifecycle(t *testing.T) {
	db := storetest.Open(t)
	svc := records.NewWeddings(db, audit.NewSQLLogger(db, nil))
	ctx := context.Background()

	w, err := svc.Create(ctx, "u1", validWedding())
	require.NoError(t, err)
	assert.False(t, w.Archived)

	storetest.Exec(t, db, `UPDATE weddings SET archived = TRUE WHERE id = $1`, w.ID)
	_, err = svc.Create(ctx, "u1", validWedding())
	require.NoError(t, err)

	live, err := svc.List(ctx, "", false)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := svc.List(ctx, "maseru", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	upd := validWedding()
	upd.Location = "Teyateyaneng"
	updated, err := svc.Update(ctx, "u1", w.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "Teyateyaneng", updated.Location)
	assert.True(t, updated.Archived)
}

func TestWeddings_ValidationAndFallback(t *testing.T) {
	db := storetest.Open(t)
	svc := records.NewWeddings(db, nil)
	ctx := context.Background()

	f := validWedding()
	f.Location = ""
	_, err := svc.Create(ctx, "u1", f)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "location", ve.Field)

	storetest.Exec(t, db,
		`INSERT INTO archives (id, record_type, details, archived_at) VALUES ('arch-w', 'wedding', $1, $2)`,
		`{"groom_first_name":"A","groom_surname":"B","bride_first_name":"C","bride_surname":"D","wedding_date":"1999-09-09","pastor":"P","location":"L"}`,
		time.Now().UTC())
	got, err := svc.Get(ctx, "arch-w")
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.Equal(t, "L", got.Location)

	_, err = svc.Get(ctx, "arch-b")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}
