package server

import (
	"net/http"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/records"
)

func (s *Server) handleListBaptisms(w http.ResponseWriter, r *http.Request) {
	list, err := s.Baptisms.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateBaptism(w http.ResponseWriter, r *http.Request) {
	var f records.BaptismFields
	if err := api.DecodeJSON(w, r, &f); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	b, err := s.Baptisms.Create(r.Context(), actorID(r), f)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBaptism(w http.ResponseWriter, r *http.Request) {
	b, err := s.Baptisms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBaptism(w http.ResponseWriter, r *http.Request) {
	var f records.BaptismFields
	if err := api.DecodeJSON(w, r, &f); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	b, err := s.Baptisms.Update(r.Context(), actorID(r), r.PathValue("id"), f)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, b)
}

func (s *Server) handleListWeddings(w http.ResponseWriter, r *http.Request) {
	list, err := s.Weddings.List(r.Context(), r.URL.Query().Get("search"), boolQuery(r, "show_archived"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateWedding(w http.ResponseWriter, r *http.Request) {
	var f records.WeddingFields
	if err := api.DecodeJSON(w, r, &f); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	wd, err := s.Weddings.Create(r.Context(), actorID(r), f)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, wd)
}

func (s *Server) handleGetWedding(w http.ResponseWriter, r *http.Request) {
	wd, err := s.Weddings.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, wd)
}

func (s *Server) handleUpdateWedding(w http.ResponseWriter, r *http.Request) {
	var f records.WeddingFields
	if err := api.DecodeJSON(w, r, &f); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	wd, err := s.Weddings.Update(r.Context(), actorID(r), r.PathValue("id"), f)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, wd)
}
