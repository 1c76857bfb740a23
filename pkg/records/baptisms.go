package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

// BaptismFields are the editable fields of a baptism entry. Middle names are
// optional; everything else is required.
type BaptismFields struct {
	FirstName        string `json:"first_name"`
	MiddleName       string `json:"middle_name,omitempty"`
	Surname          string `json:"surname"`
	DateOfBirth      string `json:"date_of_birth"`
	FatherFirstName  string `json:"father_first_name"`
	FatherMiddleName string `json:"father_middle_name,omitempty"`
	FatherSurname    string `json:"father_surname"`
	MotherFirstName  string `json:"mother_first_name"`
	MotherMiddleName string `json:"mother_middle_name,omitempty"`
	MotherSurname    string `json:"mother_surname"`
	BaptismDate      string `json:"baptism_date"`
	Pastor           string `json:"pastor"`
}

// Normalize trims all fields and validates required ones and dates.
func (f BaptismFields) Normalize() (BaptismFields, error) {
	err := normalizeFields([]field{
		{"first_name", &f.FirstName, true, false},
		{"middle_name", &f.MiddleName, false, false},
		{"surname", &f.Surname, true, false},
		{"date_of_birth", &f.DateOfBirth, true, true},
		{"father_first_name", &f.FatherFirstName, true, false},
		{"father_middle_name", &f.FatherMiddleName, false, false},
		{"father_surname", &f.FatherSurname, true, false},
		{"mother_first_name", &f.MotherFirstName, true, false},
		{"mother_middle_name", &f.MotherMiddleName, false, false},
		{"mother_surname", &f.MotherSurname, true, false},
		{"baptism_date", &f.BaptismDate, true, true},
		{"pastor", &f.Pastor, true, false},
	})
	return f, err
}

// Baptism is a register entry, live or archived.
type Baptism struct {
	ID string `json:"id"`
	BaptismFields
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

const baptismColumns = `id, first_name, middle_name, surname, date_of_birth,
	father_first_name, father_middle_name, father_surname,
	mother_first_name, mother_middle_name, mother_surname,
	baptism_date, pastor, archived, created_at, updated_at`

func scanBaptism(row interface{ Scan(...any) error }) (Baptism, error) {
	var (
		b                                  Baptism
		middle, fatherMiddle, motherMiddle sql.NullString
	)
	err := row.Scan(&b.ID, &b.FirstName, &middle, &b.Surname, &b.DateOfBirth,
		&b.FatherFirstName, &fatherMiddle, &b.FatherSurname,
		&b.MotherFirstName, &motherMiddle, &b.MotherSurname,
		&b.BaptismDate, &b.Pastor, &b.Archived, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Baptism{}, err
	}
	b.MiddleName, b.FatherMiddleName, b.MotherMiddleName = middle.String, fatherMiddle.String, motherMiddle.String
	return b, nil
}

// Baptisms is the baptism register.
type Baptisms struct {
	db    *store.DB
	audit audit.TxRecorder
	now   func() time.Time
}

func NewBaptisms(db *store.DB, auditor audit.TxRecorder) *Baptisms {
	return &Baptisms{db: db, audit: auditor, now: func() time.Time { return time.Now().UTC() }}
}

// List returns live entries, newest baptism first. search matches first
// name, surname and pastor case-insensitively.
func (s *Baptisms) List(ctx context.Context, search string) ([]Baptism, error) {
	query := `SELECT ` + baptismColumns + ` FROM baptisms WHERE archived = FALSE`
	var args []any
	if strings.TrimSpace(search) != "" {
		query += ` AND (first_name ILIKE $1 OR surname ILIKE $1 OR pastor ILIKE $1)`
		args = append(args, searchPattern(search))
	}
	query += ` ORDER BY baptism_date DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Fault("list baptisms", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Baptism{}
	for rows.Next() {
		b, err := scanBaptism(rows)
		if err != nil {
			return nil, domain.Fault("list baptisms", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fault("list baptisms", err)
	}
	return out, nil
}

// Create records a new baptism.
func (s *Baptisms) Create(ctx context.Context, actorID string, f BaptismFields) (Baptism, error) {
	f, err := f.Normalize()
	if err != nil {
		return Baptism{}, err
	}
	now := s.now()
	b := Baptism{ID: store.NewID(), BaptismFields: f, CreatedAt: now, UpdatedAt: now}

	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO baptisms (`+baptismColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			b.ID, f.FirstName, nullable(f.MiddleName), f.Surname, f.DateOfBirth,
			f.FatherFirstName, nullable(f.FatherMiddleName), f.FatherSurname,
			f.MotherFirstName, nullable(f.MotherMiddleName), f.MotherSurname,
			f.BaptismDate, f.Pastor, false, now, now)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("baptism already exists: %w", domain.ErrConflict)
			}
			return fmt.Errorf("insert baptism: %w", err)
		}
		s.record(ctx, tx, actorID, audit.ActionAddBaptism, map[string]any{
			"id":           b.ID,
			"name":         f.FirstName + " " + f.Surname,
			"baptism_date": f.BaptismDate,
		})
		return nil
	})
	if err != nil {
		return Baptism{}, domain.Fault("create baptism", err)
	}
	return b, nil
}

// Update replaces the fields of a live baptism.
func (s *Baptisms) Update(ctx context.Context, actorID, id string, f BaptismFields) (Baptism, error) {
	f, err := f.Normalize()
	if err != nil {
		return Baptism{}, err
	}
	var b Baptism
	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE baptisms SET
			first_name = $1, middle_name = $2, surname = $3, date_of_birth = $4,
			father_first_name = $5, father_middle_name = $6, father_surname = $7,
			mother_first_name = $8, mother_middle_name = $9, mother_surname = $10,
			baptism_date = $11, pastor = $12, updated_at = $13
			WHERE id = $14`,
			f.FirstName, nullable(f.MiddleName), f.Surname, f.DateOfBirth,
			f.FatherFirstName, nullable(f.FatherMiddleName), f.FatherSurname,
			f.MotherFirstName, nullable(f.MotherMiddleName), f.MotherSurname,
			f.BaptismDate, f.Pastor, s.now(), id)
		if err != nil {
			return fmt.Errorf("update baptism: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.NotFoundError{Entity: "baptism", Key: id}
		}
		b, err = scanBaptism(tx.QueryRowContext(ctx, `SELECT `+baptismColumns+` FROM baptisms WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("read baptism: %w", err)
		}
		s.record(ctx, tx, actorID, audit.ActionUpdateBaptism, map[string]any{
			"baptism_id": id,
			"new_values": f,
		})
		return nil
	})
	if err != nil {
		return Baptism{}, domain.Fault("update baptism", err)
	}
	return b, nil
}

// Get returns a live baptism, or its archived snapshot marked Archived.
func (s *Baptisms) Get(ctx context.Context, id string) (Baptism, error) {
	b, err := scanBaptism(s.db.QueryRowContext(ctx, `SELECT `+baptismColumns+` FROM baptisms WHERE id = $1`, id))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Baptism{}, domain.Fault("get baptism", err)
	}

	details, archivedAt, err := archivedDetails(ctx, s.db, domain.KindBaptism, id)
	if err != nil {
		return Baptism{}, domain.Fault("get archived baptism", err)
	}
	b = Baptism{ID: id, Archived: true, ArchivedAt: &archivedAt}
	if err := json.Unmarshal(details, &b.BaptismFields); err != nil {
		return Baptism{}, domain.Fault("decode archived baptism", err)
	}
	return b, nil
}

func (s *Baptisms) record(ctx context.Context, tx *store.Tx, actorID, action string, details map[string]any) {
	if s.audit != nil {
		s.audit.RecordTx(ctx, tx, audit.NewEvent(actorID, action, details))
	}
}
