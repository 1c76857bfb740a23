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

// WeddingFields are the editable fields of a wedding entry.
type WeddingFields struct {
	GroomFirstName  string `json:"groom_first_name"`
	GroomMiddleName string `json:"groom_middle_name,omitempty"`
	GroomSurname    string `json:"groom_surname"`
	GroomIDNumber   string `json:"groom_id_number,omitempty"`
	BrideFirstName  string `json:"bride_first_name"`
	BrideMiddleName string `json:"bride_middle_name,omitempty"`
	BrideSurname    string `json:"bride_surname"`
	BrideIDNumber   string `json:"bride_id_number,omitempty"`
	WeddingDate     string `json:"wedding_date"`
	Pastor          string `json:"pastor"`
	Location        string `json:"location"`
}

func (f WeddingFields) Normalize() (WeddingFields, error) {
	err := normalizeFields([]field{
		{"groom_first_name", &f.GroomFirstName, true, false},
		{"groom_middle_name", &f.GroomMiddleName, false, false},
		{"groom_surname", &f.GroomSurname, true, false},
		{"groom_id_number", &f.GroomIDNumber, false, false},
		{"bride_first_name", &f.BrideFirstName, true, false},
		{"bride_middle_name", &f.BrideMiddleName, false, false},
		{"bride_surname", &f.BrideSurname, true, false},
		{"bride_id_number", &f.BrideIDNumber, false, false},
		{"wedding_date", &f.WeddingDate, true, true},
		{"pastor", &f.Pastor, true, false},
		{"location", &f.Location, true, false},
	})
	return f, err
}

// Wedding is a register entry, live or archived.
type Wedding struct {
	ID string `json:"id"`
	WeddingFields
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

const weddingColumns = `id, groom_first_name, groom_middle_name, groom_surname, groom_id_number,
	bride_first_name, bride_middle_name, bride_surname, bride_id_number,
	wedding_date, pastor, location, archived, created_at, updated_at`

func scanWedding(row interface{ Scan(...any) error }) (Wedding, error) {
	var (
		w                                      Wedding
		groomMiddle, groomID, brideMiddle, bID sql.NullString
	)
	err := row.Scan(&w.ID, &w.GroomFirstName, &groomMiddle, &w.GroomSurname, &groomID,
		&w.BrideFirstName, &brideMiddle, &w.BrideSurname, &bID,
		&w.WeddingDate, &w.Pastor, &w.Location, &w.Archived, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Wedding{}, err
	}
	w.GroomMiddleName, w.GroomIDNumber = groomMiddle.String, groomID.String
	w.BrideMiddleName, w.BrideIDNumber = brideMiddle.String, bID.String
	return w, nil
}

// Weddings is the wedding register.
type Weddings struct {
	db    *store.DB
	audit audit.TxRecorder
	now   func() time.Time
}

func NewWeddings(db *store.DB, auditor audit.TxRecorder) *Weddings {
	return &Weddings{db: db, audit: auditor, now: func() time.Time { return time.Now().UTC() }}
}

// List returns weddings, newest first. Entries flagged archived are only
// included when includeArchived is set. search matches both spouses' names,
// pastor and location.
func (s *Weddings) List(ctx context.Context, search string, includeArchived bool) ([]Wedding, error) {
	var (
		conds []string
		args  []any
	)
	if !includeArchived {
		conds = append(conds, `archived = FALSE`)
	}
	if strings.TrimSpace(search) != "" {
		conds = append(conds, `(groom_first_name ILIKE $1 OR groom_surname ILIKE $1 OR
			bride_first_name ILIKE $1 OR bride_surname ILIKE $1 OR
			pastor ILIKE $1 OR location ILIKE $1)`)
		args = append(args, searchPattern(search))
	}
	query := `SELECT ` + weddingColumns + ` FROM weddings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY wedding_date DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Fault("list weddings", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Wedding{}
	for rows.Next() {
		w, err := scanWedding(rows)
		if err != nil {
			return nil, domain.Fault("list weddings", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fault("list weddings", err)
	}
	return out, nil
}

// Create records a new wedding.
func (s *Weddings) Create(ctx context.Context, actorID string, f WeddingFields) (Wedding, error) {
	f, err := f.Normalize()
	if err != nil {
		return Wedding{}, err
	}
	now := s.now()
	w := Wedding{ID: store.NewID(), WeddingFields: f, CreatedAt: now, UpdatedAt: now}

	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO weddings (`+weddingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			w.ID, f.GroomFirstName, nullable(f.GroomMiddleName), f.GroomSurname, nullable(f.GroomIDNumber),
			f.BrideFirstName, nullable(f.BrideMiddleName), f.BrideSurname, nullable(f.BrideIDNumber),
			f.WeddingDate, f.Pastor, f.Location, false, now, now)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("wedding already exists: %w", domain.ErrConflict)
			}
			return fmt.Errorf("insert wedding: %w", err)
		}
		s.record(ctx, tx, actorID, audit.ActionAddWedding, map[string]any{
			"id":           w.ID,
			"groom":        f.GroomFirstName + " " + f.GroomSurname,
			"bride":        f.BrideFirstName + " " + f.BrideSurname,
			"wedding_date": f.WeddingDate,
		})
		return nil
	})
	if err != nil {
		return Wedding{}, domain.Fault("create wedding", err)
	}
	return w, nil
}

// Update replaces the fields of a wedding.
func (s *Weddings) Update(ctx context.Context, actorID, id string, f WeddingFields) (Wedding, error) {
	f, err := f.Normalize()
	if err != nil {
		return Wedding{}, err
	}
	var w Wedding
	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE weddings SET
			groom_first_name = $1, groom_middle_name = $2, groom_surname = $3, groom_id_number = $4,
			bride_first_name = $5, bride_middle_name = $6, bride_surname = $7, bride_id_number = $8,
			wedding_date = $9, pastor = $10, location = $11, updated_at = $12
			WHERE id = $13`,
			f.GroomFirstName, nullable(f.GroomMiddleName), f.GroomSurname, nullable(f.GroomIDNumber),
			f.BrideFirstName, nullable(f.BrideMiddleName), f.BrideSurname, nullable(f.BrideIDNumber),
			f.WeddingDate, f.Pastor, f.Location, s.now(), id)
		if err != nil {
			return fmt.Errorf("update wedding: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.NotFoundError{Entity: "wedding", Key: id}
		}
		w, err = scanWedding(tx.QueryRowContext(ctx, `SELECT `+weddingColumns+` FROM weddings WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("read wedding: %w", err)
		}
		s.record(ctx, tx, actorID, audit.ActionUpdateWedding, map[string]any{
			"wedding_id": id,
			"new_values": f,
		})
		return nil
	})
	if err != nil {
		return Wedding{}, domain.Fault("update wedding", err)
	}
	return w, nil
}

// Get returns a wedding, or its archived snapshot marked Archived.
func (s *Weddings) Get(ctx context.Context, id string) (Wedding, error) {
	w, err := scanWedding(s.db.QueryRowContext(ctx, `SELECT `+weddingColumns+` FROM weddings WHERE id = $1`, id))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Wedding{}, domain.Fault("get wedding", err)
	}

	details, archivedAt, err := archivedDetails(ctx, s.db, domain.KindWedding, id)
	if err != nil {
		return Wedding{}, domain.Fault("get archived wedding", err)
	}
	w = Wedding{ID: id, Archived: true, ArchivedAt: &archivedAt}
	if err := json.Unmarshal(details, &w.WeddingFields); err != nil {
		return Wedding{}, domain.Fault("decode archived wedding", err)
	}
	return w, nil
}

func (s *Weddings) record(ctx context.Context, tx *store.Tx, actorID, action string, details map[string]any) {
	if s.audit != nil {
		s.audit.RecordTx(ctx, tx, audit.NewEvent(actorID, action, details))
	}
}
