// Package members manages live congregation members and the dense palo
// sequence that numbers them.
package members

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

// MaxReceiptLen bounds a receipt reference.
const MaxReceiptLen = 50

// Statuses a member can be archived with.
const (
	StatusMoved    = "Moved"
	StatusDeceased = "Deceased"
)

// ArchiveStatuses lists the accepted archive statuses.
var ArchiveStatuses = []string{StatusMoved, StatusDeceased}

// Member is a live member, or an archived one when Archived is set.
type Member struct {
	ID         string            `json:"id"`
	Palo       int               `json:"palo"`
	GivenName  string            `json:"given_name"`
	FamilyName string            `json:"family_name"`
	Receipts   map[string]string `json:"receipts,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`

	Archived   bool       `json:"archived,omitempty"`
	Status     string     `json:"status,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Names are the editable profile fields.
type Names struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Normalize trims and NFC-normalizes both names and reports missing ones.
func (n Names) Normalize() (Names, error) {
	out := Names{
		GivenName:  cleanName(n.GivenName),
		FamilyName: cleanName(n.FamilyName),
	}
	var missing []string
	if out.GivenName == "" {
		missing = append(missing, "given_name")
	}
	if out.FamilyName == "" {
		missing = append(missing, "family_name")
	}
	if len(missing) > 0 {
		return Names{}, domain.MissingFields(missing)
	}
	return out, nil
}

func cleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Snapshot is the member payload stored in the archive.
type Snapshot struct {
	GivenName  string            `json:"given_name"`
	FamilyName string            `json:"family_name"`
	Status     string            `json:"status"`
	Receipts   map[string]string `json:"receipts,omitempty"`
}

// SnapshotOf captures m for archival with the given status.
func SnapshotOf(m Member, status string) Snapshot {
	return Snapshot{
		GivenName:  m.GivenName,
		FamilyName: m.FamilyName,
		Status:     status,
		Receipts:   m.Receipts,
	}
}

// DecodeSnapshot parses an archived member payload.
func DecodeSnapshot(raw json.RawMessage) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// ValidateStatus checks an archive status.
func ValidateStatus(status string) error {
	for _, s := range ArchiveStatuses {
		if status == s {
			return nil
		}
	}
	return &domain.ValidationError{Field: "status", Reason: "must be one of the allowed values", Allowed: ArchiveStatuses}
}

// ValidateReceipt checks a receipt update. An empty receipt clears the year.
func ValidateReceipt(year, receipt string) error {
	if !validYear(year) {
		return &domain.ValidationError{Field: "year", Reason: "valid year is required", Allowed: store.ReceiptYears}
	}
	if utf8.RuneCountInString(receipt) > MaxReceiptLen {
		return &domain.ValidationError{Field: "receipt", Reason: "receipt number too long (max 50 characters)"}
	}
	return nil
}

func validYear(year string) bool {
	for _, y := range store.ReceiptYears {
		if y == year {
			return true
		}
	}
	return false
}

// cleanReceipts drops unknown years and empty references.
func cleanReceipts(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for y, r := range in {
		r = strings.TrimSpace(r)
		if validYear(y) && r != "" {
			out[y] = r
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
