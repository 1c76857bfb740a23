// Package archive holds retired records of every kind and the transitions
// that move members between the live register and the archive.
package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/members"
	"github.com/lecsachurch/registry/pkg/records"
)

// Record is one archived row. Details is the snapshot taken when the source
// was archived and is never re-read from the source afterwards. Palo is the
// archive-local number and is only set for members.
type Record struct {
	ID         string          `json:"id"`
	Kind       domain.Kind     `json:"record_type"`
	Details    json.RawMessage `json:"details"`
	Palo       *int            `json:"palo,omitempty"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Details is the decoded payload of a Record.
type Details interface {
	Kind() domain.Kind
}

type MemberDetails members.Snapshot

func (MemberDetails) Kind() domain.Kind { return domain.KindMember }

type BaptismDetails records.BaptismFields

func (BaptismDetails) Kind() domain.Kind { return domain.KindBaptism }

type WeddingDetails records.WeddingFields

func (WeddingDetails) Kind() domain.Kind { return domain.KindWedding }

// Decode parses Details according to Kind.
func (r Record) Decode() (Details, error) {
	var (
		d   Details
		err error
	)
	switch r.Kind {
	case domain.KindMember:
		var v MemberDetails
		err = json.Unmarshal(r.Details, &v)
		d = v
	case domain.KindBaptism:
		var v BaptismDetails
		err = json.Unmarshal(r.Details, &v)
		d = v
	case domain.KindWedding:
		var v WeddingDetails
		err = json.Unmarshal(r.Details, &v)
		d = v
	default:
		return nil, fmt.Errorf("archive %s: unknown record type %q", r.ID, r.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("archive %s: decode %s details: %w", r.ID, r.Kind, err)
	}
	return d, nil
}
