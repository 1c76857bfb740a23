// Package api holds the HTTP building blocks shared by the registry's
// handlers: RFC 7807 problem responses, JSON helpers, per-IP rate limiting
// and idempotent replay of mutating requests.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lecsachurch/registry/pkg/domain"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID is the request ID of the failing request.
	TraceID string `json:"trace_id,omitempty"`
	// Allowed lists the accepted values when a field was rejected.
	Allowed []string `json:"allowed,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

const problemTypeBase = "https://registry.lecsachurch.org/errors/"

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("%s%d", problemTypeBase, status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     fmt.Sprintf("%s%d", problemTypeBase, status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get("X-Request-ID"))
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteServiceError maps a service-layer error onto a problem response.
// Validation, not-found, permission and conflict errors carry their own
// message; everything else is a storage fault and gets the generic 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeProblem(w, &ProblemDetail{
			Type:     problemTypeBase + "validation",
			Title:    "Bad Request",
			Status:   http.StatusBadRequest,
			Detail:   validation.Error(),
			Instance: r.URL.Path,
			TraceID:  w.Header().Get("X-Request-ID"),
			Allowed:  validation.Allowed,
		})
	case errors.Is(err, domain.ErrUnsupportedKind):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", domain.ErrUnsupportedKind.Error())
	case errors.Is(err, domain.ErrInvalidSnapshot):
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", domain.ErrInvalidSnapshot.Error())
	case errors.As(err, &notFound):
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", notFound.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		WriteErrorR(w, r, http.StatusForbidden, "Forbidden", domain.ErrPermissionDenied.Error())
	case errors.Is(err, domain.ErrConflict):
		WriteErrorR(w, r, http.StatusConflict, "Conflict", conflictDetail(err))
	default:
		WriteInternal(w, err)
	}
}

// conflictDetail drops any wrapped driver text after the sentinel.
func conflictDetail(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, domain.ErrConflict.Error()); i > 0 {
		return strings.TrimSuffix(msg[:i], ": ")
	}
	return domain.ErrConflict.Error()
}
