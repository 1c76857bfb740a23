package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewGlobalRateLimiter(0.001, 2)
	defer limiter.Stop()
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/members", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1235"), "same IP, different port shares the bucket")
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1236"), "burst exhausted")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234"), "other clients unaffected")
}

func TestGlobalRateLimiter_StopIdempotent(t *testing.T) {
	limiter := NewGlobalRateLimiter(1, 1)
	limiter.Stop()
	limiter.Stop()
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"192.168.1.5:8080": "192.168.1.5",
		"[::1]:443":        "::1",
		"[::1]":            "::1",
		"10.1.1.1":         "10.1.1.1",
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		assert.Equal(t, want, ClientIP(req), remote)
	}
}
