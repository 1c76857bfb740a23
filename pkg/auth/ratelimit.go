package auth

import (
	"log/slog"
	"net/http"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/limiter"
)

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// The actor is the authenticated user, falling back to the client IP.
// On rate limit exceeded, it returns 429 with a Retry-After header.
func RateLimitMiddleware(store limiter.Store, policy limiter.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := "ip:" + api.ClientIP(r)
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = "user:" + principal.ID
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				// Fail open so a limiter outage does not take the API down.
				slog.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := 1
				if policy.RPM > 0 && policy.RPM < 60 {
					retryAfter = 60 / policy.RPM
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
