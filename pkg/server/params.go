package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/domain"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// actorID returns the authenticated caller's id. The permission gate has
// already rejected anonymous requests on every route that calls it.
func actorID(r *http.Request) string {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		return ""
	}
	return p.ID
}

func paloParam(r *http.Request) (int, error) {
	palo, err := strconv.Atoi(r.PathValue("palo"))
	if err != nil || palo < 1 {
		return 0, &domain.ValidationError{Field: "palo", Reason: "must be a positive integer"}
	}
	return palo, nil
}

func boolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// timeQuery accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func timeQuery(r *http.Request, name string, upper bool) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: name, Reason: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func limitQuery(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLogLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLogLimit {
		return 0, &domain.ValidationError{Field: "limit", Reason: "must be between 1 and " + strconv.Itoa(maxLogLimit)}
	}
	return n, nil
}
