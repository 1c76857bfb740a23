package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/domain"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	return problem
}

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, "Bad Request", problem.Title)
	assert.Equal(t, "field is missing", problem.Detail)
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	problem := decodeProblem(t, w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, problem.Detail, "10.0.0.1")
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWriteUnauthorized_DefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "")
	assert.Equal(t, "Authentication required", decodeProblem(t, w).Detail)
}

func TestWriteErrorR_EnrichesWithRequestContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/archives", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	api.WriteErrorR(w, req, http.StatusBadRequest, "Bad Request", "bad input")

	problem := decodeProblem(t, w)
	assert.Equal(t, "/api/archives", problem.Instance)
	assert.Equal(t, "req-123", problem.TraceID)
}

func TestWriteServiceError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "validation",
			err:        &domain.ValidationError{Field: "status", Reason: "must be one of the allowed values", Allowed: []string{"Moved", "Deceased"}},
			wantStatus: http.StatusBadRequest,
			wantDetail: "status: must be one of the allowed values (allowed: Moved, Deceased)",
		},
		{
			name:       "not found",
			err:        fmt.Errorf("archive member: %w", &domain.NotFoundError{Entity: "member", Key: "7"}),
			wantStatus: http.StatusNotFound,
			wantDetail: "member 7 not found",
		},
		{
			name:       "unsupported kind",
			err:        domain.ErrUnsupportedKind,
			wantStatus: http.StatusBadRequest,
			wantDetail: domain.ErrUnsupportedKind.Error(),
		},
		{
			name:       "invalid snapshot",
			err:        fmt.Errorf("restore: %w", domain.ErrInvalidSnapshot),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "permission",
			err:        domain.ErrPermissionDenied,
			wantStatus: http.StatusForbidden,
			wantDetail: "insufficient permissions",
		},
		{
			name:       "conflict",
			err:        fmt.Errorf("username already taken: %w", domain.ErrConflict),
			wantStatus: http.StatusConflict,
			wantDetail: "username already taken",
		},
		{
			name:       "storage fault",
			err:        domain.Fault("archive member", errors.New("pq: deadlock detected")),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/members/7/archive", nil)
			w := httptest.NewRecorder()

			api.WriteServiceError(w, req, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			problem := decodeProblem(t, w)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, problem.Detail)
			}
			assert.NotContains(t, problem.Detail, "pq:")
		})
	}
}

func TestWriteServiceError_ValidationListsAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/members/1/receipt", nil)
	w := httptest.NewRecorder()

	api.WriteServiceError(w, req, &domain.ValidationError{Field: "year", Reason: "invalid year", Allowed: []string{"2024", "2025"}})

	problem := decodeProblem(t, w)
	assert.Equal(t, []string{"2024", "2025"}, problem.Allowed)
}
