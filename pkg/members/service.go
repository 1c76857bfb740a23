package members

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

// Service implements member registration, lookup and profile edits.
type Service struct {
	db    *store.DB
	seq   Sequence
	audit audit.TxRecorder
	now   func() time.Time
}

func NewService(db *store.DB, auditor audit.TxRecorder) *Service {
	return &Service{db: db, audit: auditor, now: func() time.Time { return time.Now().UTC() }}
}

// Sequence returns the palo sequence manager shared with archival.
func (s *Service) Sequence() Sequence { return s.seq }

func receiptColumns() []string {
	cols := make([]string, len(store.ReceiptYears))
	for i, y := range store.ReceiptYears {
		cols[i] = "receipt_" + y
	}
	return cols
}

var memberColumns = "id, palo, given_name, family_name, " + strings.Join(receiptColumns(), ", ") + ", created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (Member, error) {
	var m Member
	receipts := make([]sql.NullString, len(store.ReceiptYears))
	dest := []any{&m.ID, &m.Palo, &m.GivenName, &m.FamilyName}
	for i := range receipts {
		dest = append(dest, &receipts[i])
	}
	dest = append(dest, &m.CreatedAt, &m.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return Member{}, err
	}
	for i, r := range receipts {
		if r.Valid && r.String != "" {
			if m.Receipts == nil {
				m.Receipts = make(map[string]string)
			}
			m.Receipts[store.ReceiptYears[i]] = r.String
		}
	}
	return m, nil
}

// Insert writes a member row with the given palo. Receipts for years without
// a column are ignored. The caller must hold the sequence lock.
func Insert(ctx context.Context, tx *store.Tx, m Member) error {
	cols := []string{"id", "palo", "given_name", "family_name"}
	args := []any{m.ID, m.Palo, m.GivenName, m.FamilyName}
	for _, y := range store.ReceiptYears {
		if r, ok := m.Receipts[y]; ok {
			cols = append(cols, "receipt_"+y)
			args = append(args, r)
		}
	}
	cols = append(cols, "created_at", "updated_at")
	args = append(args, m.CreatedAt, m.UpdatedAt)

	marks := make([]string, len(args))
	for i := range marks {
		marks[i] = "$" + strconv.Itoa(i+1)
	}
	query := fmt.Sprintf("INSERT INTO members (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("member with palo %d: %w", m.Palo, domain.ErrConflict)
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// GetForUpdate reads a live member inside tx.
func GetForUpdate(ctx context.Context, tx *store.Tx, palo int) (Member, error) {
	m, err := scanMember(tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE palo = $1 FOR UPDATE`, palo))
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, &domain.NotFoundError{Entity: "member", Key: strconv.Itoa(palo)}
	}
	if err != nil {
		return Member{}, fmt.Errorf("read member %d: %w", palo, err)
	}
	return m, nil
}

// Delete removes a live member by id.
func Delete(ctx context.Context, tx *store.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// Create registers a member at the end of the sequence.
func (s *Service) Create(ctx context.Context, actorID string, names Names, receipts map[string]string) (Member, error) {
	names, err := names.Normalize()
	if err != nil {
		return Member{}, err
	}
	for y, r := range receipts {
		if err := ValidateReceipt(y, r); err != nil {
			return Member{}, err
		}
	}

	now := s.now()
	m := Member{
		ID:         store.NewID(),
		GivenName:  names.GivenName,
		FamilyName: names.FamilyName,
		Receipts:   cleanReceipts(receipts),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		if err := s.seq.Lock(ctx, tx); err != nil {
			return err
		}
		palo, err := s.seq.AllocateNext(ctx, tx)
		if err != nil {
			return err
		}
		m.Palo = palo
		if err := Insert(ctx, tx, m); err != nil {
			return err
		}
		s.record(ctx, tx, actorID, audit.ActionAddMember, map[string]any{
			"id":          m.ID,
			"palo":        m.Palo,
			"given_name":  m.GivenName,
			"family_name": m.FamilyName,
		})
		return nil
	})
	if err != nil {
		return Member{}, domain.Fault("create member", err)
	}
	return m, nil
}

// List returns live members ordered by palo. A non-empty search matches
// names and palo case-insensitively.
func (s *Service) List(ctx context.Context, search string) ([]Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members`
	var args []any
	if search = strings.TrimSpace(search); search != "" {
		query += ` WHERE given_name ILIKE $1 OR family_name ILIKE $1 OR CAST(palo AS TEXT) ILIKE $1`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY palo`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Fault("list members", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, domain.Fault("list members", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Fault("list members", err)
	}
	return out, nil
}

// Get returns the live member with palo. When none exists it falls back to
// the member archive, where palo is the archive-local number, and marks the
// result Archived.
func (s *Service) Get(ctx context.Context, palo int) (Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE palo = $1`, palo))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Member{}, domain.Fault("get member", err)
	}

	var (
		id         string
		details    []byte
		archivedAt time.Time
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, details, archived_at FROM archives WHERE record_type = $1 AND palo = $2`,
		string(domain.KindMember), palo,
	).Scan(&id, &details, &archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, &domain.NotFoundError{Entity: "member", Key: strconv.Itoa(palo)}
	}
	if err != nil {
		return Member{}, domain.Fault("get archived member", err)
	}
	snap, err := DecodeSnapshot(details)
	if err != nil {
		return Member{}, domain.Fault("decode archived member", err)
	}
	return Member{
		ID:         id,
		Palo:       palo,
		GivenName:  snap.GivenName,
		FamilyName: snap.FamilyName,
		Receipts:   snap.Receipts,
		Archived:   true,
		Status:     snap.Status,
		ArchivedAt: &archivedAt,
	}, nil
}

// Update edits a live member's names.
func (s *Service) Update(ctx context.Context, actorID string, palo int, names Names) (Member, error) {
	names, err := names.Normalize()
	if err != nil {
		return Member{}, err
	}
	var m Member
	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		if err := s.seq.Lock(ctx, tx); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE members SET given_name = $1, family_name = $2, updated_at = $3 WHERE palo = $4`,
			names.GivenName, names.FamilyName, s.now(), palo)
		if err != nil {
			return fmt.Errorf("update member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.NotFoundError{Entity: "member", Key: strconv.Itoa(palo)}
		}
		if m, err = GetForUpdate(ctx, tx, palo); err != nil {
			return err
		}
		s.record(ctx, tx, actorID, audit.ActionUpdateMember, map[string]any{
			"palo":        palo,
			"given_name":  names.GivenName,
			"family_name": names.FamilyName,
		})
		return nil
	})
	if err != nil {
		return Member{}, domain.Fault("update member", err)
	}
	return m, nil
}

// UpdateReceipt sets or clears the receipt reference for one year.
func (s *Service) UpdateReceipt(ctx context.Context, actorID string, palo int, year, receipt string) (Member, error) {
	receipt = strings.TrimSpace(receipt)
	if err := ValidateReceipt(year, receipt); err != nil {
		return Member{}, err
	}
	var value any
	if receipt != "" {
		value = receipt
	}

	var m Member
	err := s.db.RunInTx(ctx, func(tx *store.Tx) error {
		if err := s.seq.Lock(ctx, tx); err != nil {
			return err
		}
		// year is one of store.ReceiptYears, so the column name is fixed.
		res, err := tx.ExecContext(ctx,
			`UPDATE members SET receipt_`+year+` = $1, updated_at = $2 WHERE palo = $3`,
			value, s.now(), palo)
		if err != nil {
			return fmt.Errorf("update receipt: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.NotFoundError{Entity: "member", Key: strconv.Itoa(palo)}
		}
		if m, err = GetForUpdate(ctx, tx, palo); err != nil {
			return err
		}
		s.record(ctx, tx, actorID, audit.ActionUpdateReceipt, map[string]any{
			"palo":    palo,
			"year":    year,
			"receipt": receipt,
		})
		return nil
	})
	if err != nil {
		return Member{}, domain.Fault("update receipt", err)
	}
	return m, nil
}

func (s *Service) record(ctx context.Context, tx *store.Tx, actorID, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.RecordTx(ctx, tx, audit.NewEvent(actorID, action, details))
}
