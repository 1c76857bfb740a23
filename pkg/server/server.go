// Package server assembles the registry's HTTP API: the route table, the
// middleware chain and the permission gate in front of every protected
// handler.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/archive"
	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/authz"
	"github.com/lecsachurch/registry/pkg/domain"
	"github.com/lecsachurch/registry/pkg/identity"
	"github.com/lecsachurch/registry/pkg/limiter"
	"github.com/lecsachurch/registry/pkg/members"
	"github.com/lecsachurch/registry/pkg/metrics"
	"github.com/lecsachurch/registry/pkg/records"
	"github.com/lecsachurch/registry/pkg/store"
)

// Deps are the collaborators the HTTP layer calls into. Metrics, Limiter,
// IPLimiter and Idempotency are optional.
type Deps struct {
	DB        *store.DB
	Members   *members.Service
	Archive   *archive.Service
	Baptisms  *records.Baptisms
	Weddings  *records.Weddings
	Users     *auth.Users
	AuditLog  *audit.SQLLogger
	Exporter  *audit.Exporter
	Evaluator *authz.Evaluator
	Tokens    *identity.TokenManager
	Validator *auth.JWTValidator
	TokenTTL  time.Duration

	Metrics     *metrics.Metrics
	Limiter     limiter.Store
	Policy      limiter.Policy
	IPLimiter   *api.GlobalRateLimiter
	Idempotency api.IdempotencyStore
	CORSOrigins []string
}

// Server serves the registry API.
type Server struct {
	Deps
}

// New returns a Server. A zero TokenTTL means 24 hours.
func New(d Deps) *Server {
	if d.TokenTTL <= 0 {
		d.TokenTTL = 24 * time.Hour
	}
	if d.Evaluator == nil {
		d.Evaluator = authz.NewEvaluator(nil)
	}
	return &Server{Deps: d}
}

// Handler returns the full middleware chain around the route table:
// request id, CORS, per-IP limit, JWT authentication, per-actor limit,
// idempotent replay, then the mux.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.routes()
	h = api.IdempotencyMiddleware(s.Idempotency, idempotencyScope)(h)
	h = auth.RateLimitMiddleware(s.Limiter, s.Policy)(h)
	h = auth.NewMiddleware(s.Validator)(h)
	if s.IPLimiter != nil {
		h = s.IPLimiter.Middleware(h)
	}
	h = auth.CORSMiddleware(s.CORSOrigins)(h)
	return auth.RequestIDMiddleware(h)
}

func idempotencyScope(r *http.Request) string {
	if p, err := auth.GetPrincipal(r.Context()); err == nil {
		return p.ID
	}
	return "anonymous"
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	s.handle(mux, "GET /health", "", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	s.handle(mux, "POST /api/auth/register", "", s.handleRegister)
	s.handle(mux, "POST /api/auth/login", "", s.handleLogin)

	s.handle(mux, "GET /api/members", authz.ActionView, s.handleListMembers)
	s.handle(mux, "POST /api/members", authz.ActionAdd, s.handleCreateMember)
	s.handle(mux, "GET /api/members/{palo}", authz.ActionView, s.handleGetMember)
	s.handle(mux, "PUT /api/members/{palo}", authz.ActionUpdate, s.handleUpdateMember)
	s.handle(mux, "PUT /api/members/{palo}/receipt", authz.ActionUpdate, s.handleUpdateReceipt)
	s.handle(mux, "PUT /api/members/{palo}/archive", authz.ActionArchive, s.handleArchiveMember)

	s.handle(mux, "GET /api/archives", authz.ActionView, s.handleListArchives)
	s.handle(mux, "GET /api/archives/{id}", authz.ActionView, s.handleGetArchive)
	s.handle(mux, "PUT /api/archives/{id}/restore", authz.ActionArchive, s.handleRestore)

	s.handle(mux, "GET /api/baptisms", authz.ActionView, s.handleListBaptisms)
	s.handle(mux, "POST /api/baptisms", authz.ActionAdd, s.handleCreateBaptism)
	s.handle(mux, "GET /api/baptisms/{id}", authz.ActionView, s.handleGetBaptism)
	s.handle(mux, "PUT /api/baptisms/{id}", authz.ActionUpdate, s.handleUpdateBaptism)

	s.handle(mux, "GET /api/weddings", authz.ActionView, s.handleListWeddings)
	s.handle(mux, "POST /api/weddings", authz.ActionAdd, s.handleCreateWedding)
	s.handle(mux, "GET /api/weddings/{id}", authz.ActionView, s.handleGetWedding)
	s.handle(mux, "PUT /api/weddings/{id}", authz.ActionUpdate, s.handleUpdateWedding)

	s.handle(mux, "GET /api/admin/users", authz.ActionAdmin, s.handleListUsers)
	s.handle(mux, "PUT /api/admin/users/{username}/role", authz.ActionAdmin, s.handleSetRole)
	s.handle(mux, "GET /api/admin/action_logs", authz.ActionAdmin, s.handleActionLogs)
	s.handle(mux, "GET /api/admin/action_logs/export", authz.ActionAdmin, s.handleExportActionLogs)
	s.handle(mux, "GET /api/admin/roles", authz.ActionAdmin, s.handleRoles)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteNotFound(w, "Endpoint not found")
	})
	return mux
}

// handle registers h under pattern behind the permission gate for action.
// An empty action registers a public route.
func (s *Server) handle(mux *http.ServeMux, pattern string, action authz.Action, h http.HandlerFunc) {
	var handler http.Handler = h
	if action != "" {
		handler = s.require(action, h)
	}
	if s.Metrics != nil {
		handler = s.Metrics.Instrument(pattern, handler)
	}
	mux.Handle(pattern, handler)
}

// require rejects the request before h runs unless the caller's role grants
// action.
func (s *Server) require(action authz.Action, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			api.WriteUnauthorized(w, "")
			return
		}
		if d := s.Evaluator.Check(p.Role, action); !d.Allowed {
			auth.Logger(r.Context()).Info("permission denied", "action", string(action), "path", r.URL.Path)
			api.WriteServiceError(w, r, domain.ErrPermissionDenied)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		auth.Logger(ctx).Error("health check failed", "error", err)
		api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
