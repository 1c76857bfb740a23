package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/identity"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string    `json:"message"`
	User    auth.User `json:"user"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      auth.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	user, err := s.Users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}
	auth.Logger(r.Context()).Info("user registered", "username", user.Username)
	api.WriteJSON(w, http.StatusCreated, registerResponse{Message: "Registration successful", User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	var missing []string
	if req.Username == "" {
		missing = append(missing, "username")
	}
	if req.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		api.WriteServiceError(w, r, domain.MissingFields(missing))
		return
	}

	user, err := s.Users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		api.WriteUnauthorized(w, "Invalid username or password")
		return
	}
	if err != nil {
		api.WriteServiceError(w, r, err)
		return
	}

	token, exp, err := s.Tokens.Issue(r.Context(), identity.Subject{ID: user.ID, Username: user.Username, Role: user.Role}, s.TokenTTL)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: user})
}
