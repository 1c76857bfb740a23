package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/members"
	"github.com/lecsachurch/registry/pkg/observability"
	"github.com/lecsachurch/registry/pkg/store"
)

// Tracker wraps an operation in a span and RED metrics.
// *observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

type noopTracker struct{}

func (noopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// TransitionObserver is told about every finished transition.
type TransitionObserver interface {
	ObserveTransition(name string, err error)
}

// Option configures a Service.
type Option func(*Service)

// WithTracker traces transitions through t.
func WithTracker(t Tracker) Option {
	return func(s *Service) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithObserver reports transition outcomes to o.
func WithObserver(o TransitionObserver) Option {
	return func(s *Service) { s.observer = o }
}

// ArchiveResult is returned by ArchiveMember.
type ArchiveResult struct {
	ArchivePalo int    `json:"archive_palo"`
	Status      string `json:"status"`
}

// RestoreResult is returned by Restore.
type RestoreResult struct {
	Palo       int    `json:"palo"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Service runs the archival and restoration transitions.
type Service struct {
	db       *store.DB
	seq      members.Sequence
	audit    audit.TxRecorder
	tracker  Tracker
	observer TransitionObserver
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. auditor may be nil.
func NewService(db *store.DB, auditor audit.TxRecorder, opts ...Option) *Service {
	s := &Service{
		db:      db,
		audit:   auditor,
		tracker: noopTracker{},
		log:     slog.Default().With("component", "archive"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns archived records of every kind, newest first.
func (s *Service) List(ctx context.Context, search string) ([]Record, error) {
	out, err := List(ctx, s.db, search)
	return out, domain.Fault("list archives", err)
}

// Get returns one archived record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	r, err := Get(ctx, s.db, id)
	return r, domain.Fault("get archive", err)
}

// ArchiveMember moves the live member with palo into the archive under
// status and closes the gap in the live numbering. The archive insert, the
// delete and the renumbering commit together or not at all; the audit entry
// is best-effort.
func (s *Service) ArchiveMember(ctx context.Context, actorID string, palo int, status string) (res ArchiveResult, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "archive.member", observability.ArchiveOperation(actorID, palo, status)...)
	defer func() { s.finish("archive_member", done, err) }()

	if err := members.ValidateStatus(status); err != nil {
		return ArchiveResult{}, err
	}

	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		if err := s.seq.Lock(ctx, tx); err != nil {
			return err
		}
		m, err := members.GetForUpdate(ctx, tx, palo)
		if err != nil {
			return err
		}

		snapshot, err := json.Marshal(members.SnapshotOf(m, status))
		if err != nil {
			return fmt.Errorf("snapshot member: %w", err)
		}
		archivePalo, err := NextArchivePalo(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := Insert(ctx, tx, domain.KindMember, snapshot, &archivePalo, s.now()); err != nil {
			return err
		}

		if err := members.Delete(ctx, tx, m.ID); err != nil {
			return err
		}
		if err := s.seq.CompactAfterRemoval(ctx, tx, m.Palo); err != nil {
			return err
		}

		s.record(ctx, tx, actorID, audit.ActionArchiveMember, map[string]any{
			"palo":         m.Palo,
			"member_id":    m.ID,
			"status":       status,
			"archive_palo": archivePalo,
		})
		res = ArchiveResult{ArchivePalo: archivePalo, Status: status}
		return nil
	})
	if err != nil {
		return ArchiveResult{}, domain.Fault("archive member", err)
	}
	return res, nil
}

// Restore moves an archived member back into the live register at the end
// of the sequence. The member never gets its old palo back.
func (s *Service) Restore(ctx context.Context, actorID, id string) (res RestoreResult, err error) {
	ctx, done := s.tracker.TrackOperation(ctx, "archive.restore", observability.RestoreOperation(actorID, id)...)
	defer func() { s.finish("restore_member", done, err) }()

	err = s.db.RunInTx(ctx, func(tx *store.Tx) error {
		if err := s.seq.Lock(ctx, tx); err != nil {
			return err
		}
		r, err := GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.Kind != domain.KindMember {
			return fmt.Errorf("archive %s is a %s record: %w", id, r.Kind, domain.ErrUnsupportedKind)
		}
		if err := validateMemberSnapshot(r.Details); err != nil {
			return fmt.Errorf("archive %s: %v: %w", id, err, domain.ErrInvalidSnapshot)
		}
		snap, err := members.DecodeSnapshot(r.Details)
		if err != nil {
			return fmt.Errorf("archive %s: %v: %w", id, err, domain.ErrInvalidSnapshot)
		}
		names, err := members.Names{GivenName: snap.GivenName, FamilyName: snap.FamilyName}.Normalize()
		if err != nil {
			return fmt.Errorf("archive %s: %v: %w", id, err, domain.ErrInvalidSnapshot)
		}

		palo, err := s.seq.AllocateNext(ctx, tx)
		if err != nil {
			return err
		}
		now := s.now()
		m := members.Member{
			ID:         store.NewID(),
			Palo:       palo,
			GivenName:  names.GivenName,
			FamilyName: names.FamilyName,
			Receipts:   snap.Receipts,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := members.Insert(ctx, tx, m); err != nil {
			return err
		}
		if err := Delete(ctx, tx, id); err != nil {
			return err
		}

		s.record(ctx, tx, actorID, audit.ActionRestoreMember, map[string]any{
			"archive_id":  id,
			"palo":        palo,
			"given_name":  m.GivenName,
			"family_name": m.FamilyName,
		})
		res = RestoreResult{Palo: palo, GivenName: m.GivenName, FamilyName: m.FamilyName}
		return nil
	})
	if err != nil {
		return RestoreResult{}, domain.Fault("restore member", err)
	}
	return res, nil
}

func (s *Service) record(ctx context.Context, tx *store.Tx, actorID, action string, details map[string]any) {
	if s.audit != nil {
		s.audit.RecordTx(ctx, tx, audit.NewEvent(actorID, action, details))
	}
}

func (s *Service) finish(name string, done func(error), err error) {
	done(err)
	if s.observer != nil {
		s.observer.ObserveTransition(name, err)
	}
	var sf *domain.StorageFault
	if errors.As(err, &sf) {
		s.log.Error("transition rolled back", "transition", name, "op", sf.Op, "error", sf.Err)
	}
}
