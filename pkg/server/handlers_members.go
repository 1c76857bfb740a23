package server

import (
	"net/http"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/members"
)

type createMemberRequest struct {
	members.Names
	Receipts map[string]string `json:"receipts,omitempty"`
}

type receiptRequest struct {
	Year    string `json:"year"`
	Receipt string `json:"receipt"`
}

type archiveRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	list, err := s.Members.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	m, err := s.Members.Create(r.Context(), actorID(r), req.Names, req.Receipts)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	palo, err := paloParam(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	m, err := s.Members.Get(r.Context(), palo)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	palo, err := paloParam(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	var names members.Names
	if err := api.DecodeJSON(w, r, &names); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	m, err := s.Members.Update(r.Context(), actorID(r), palo, names)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	palo, err := paloParam(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	var req receiptRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	m, err := s.Members.UpdateReceipt(r.Context(), actorID(r), palo, req.Year, req.Receipt)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleArchiveMember(w http.ResponseWriter, r *http.Request) {
	palo, err := paloParam(r)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	var req archiveRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	res, err := s.Archive.ArchiveMember(r.Context(), actorID(r), palo, req.Status)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	auth.Logger(r.Context()).Info("member archived", "palo", palo, "archive_palo", res.ArchivePalo, "status", res.Status)
	api.WriteJSON(w, http.StatusOK, res)
}
