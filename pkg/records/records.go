// Package records keeps the baptism and wedding registers.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/store"
)

// DateLayout is the calendar date format for register dates.
const DateLayout = "2006-01-02"

type field struct {
	name     string
	value    *string
	required bool
	date     bool
}

// normalizeFields trims every field in place and reports missing required
// fields and malformed dates.
func normalizeFields(fields []field) error {
	var missing []string
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if f.required && *f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.MissingFields(missing)
	}
	for _, f := range fields {
		if f.date && *f.value != "" {
			if _, err := time.Parse(DateLayout, *f.value); err != nil {
				return &domain.ValidationError{Field: f.name, Reason: "must be a date in YYYY-MM-DD form"}
			}
		}
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// archivedDetails reads the snapshot of an archived record of kind by id.
func archivedDetails(ctx context.Context, q store.Querier, kind domain.Kind, id string) ([]byte, time.Time, error) {
	var (
		details    []byte
		archivedAt time.Time
	)
	err := q.QueryRowContext(ctx,
		`SELECT details, archived_at FROM archives WHERE id = $1 AND record_type = $2`, id, string(kind),
	).Scan(&details, &archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, &domain.NotFoundError{Entity: string(kind), Key: id}
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read archived %s: %w", kind, err)
	}
	return details, archivedAt, nil
}

func searchPattern(search string) string {
	return "%" + strings.TrimSpace(search) + "%"
}
