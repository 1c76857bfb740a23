package server

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/authz"
	"github.com/lecsachurch/registry/pkg/domain"
)

type roleRequest struct {
	Role string `json:"role"`
}

type roleEntry struct {
	Role        string         `json:"role"`
	Permissions []authz.Action `json:"permissions"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Users.List(r.Context())
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, users)
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	roles := s.Evaluator.Roles()
	if !slices.Contains(roles, req.Role) {
		api.WriteServiceError(w, r, &domain.ValidationError{Field: "role", Reason: "unknown role", Allowed: roles})
		return
	}
	user, err := s.Users.SetRole(r.Context(), actorID(r), r.PathValue("username"), req.Role)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, user)
}

func logWindow(r *http.Request) (from, to time.Time, err error) {
	if from, err = timeQuery(r, "from", false); err != nil {
		return
	}
	to, err = timeQuery(r, "to", true)
	return
}

func (s *Server) handleActionLogs(w http.ResponseWriter, r *http.Request) {
	from, to, err := logWindow(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	limit, err := limitQuery(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	entries, err := s.AuditLog.List(r.Context(), audit.Query{From: from, To: to, Limit: limit})
	if err != nil {
		api.WriteServiceError(w, r, domain.Fault("list action logs", err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	api.WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleExportActionLogs(w http.ResponseWriter, r *http.Request) {
	from, to, err := logWindow(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	zipBytes, checksum, err := s.Exporter.Export(r.Context(), audit.ExportRequest{Start: from, End: to})
	if errors.Is(err, audit.ErrInvalidTimeRange) {
		api.WriteServiceError(w, r, &domain.ValidationError{Field: "from", Reason: "must not be after to"})
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	s.AuditLog.Record(r.Context(), audit.NewEvent(actorID(r), audit.ActionExportLogs, map[string]any{
		"checksum": checksum,
		"size":     len(zipBytes),
	}))
	auth.Logger(r.Context()).Info("action logs exported", "size", len(zipBytes))

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"action-logs-%s.zip\"", time.Now().UTC().Format("20060102")))
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zipBytes)
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	roles := s.Evaluator.Roles()
	out := make([]roleEntry, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleEntry{Role: role, Permissions: s.Evaluator.Permissions(role)})
	}
	api.WriteJSON(w, http.StatusOK, out)
}
