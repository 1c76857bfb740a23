package server

import (
	"net/http"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/auth"
)

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	list, err := s.Archive.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.Archive.Restore(r.Context(), actorID(r), id)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	auth.Logger(r.Context()).Info("member restored", "archive_id", id, "palo", res.Palo)
	api.WriteJSON(w, http.StatusOK, res)
}
