package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// IdempotencyHeader names the client-supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

// CachedResponse is a previously-seen response kept for idempotent replay.
type CachedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CachedAt    time.Time
}

// IdempotencyStore persists responses by idempotency key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*CachedResponse, bool, error)
	Save(ctx context.Context, key string, resp CachedResponse) error
}

// MemoryIdempotencyStore holds cached responses in process memory.
type MemoryIdempotencyStore struct {
	mu       sync.RWMutex
	entries  map[string]CachedResponse
	ttl      time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryIdempotencyStore creates an in-memory store whose entries expire
// after ttl. Call Close to stop the background sweep.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]CachedResponse),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.cleanup(5 * time.Minute)
	return s
}

func (s *MemoryIdempotencyStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, v := range s.entries {
				if now.Sub(v.CachedAt) > s.ttl {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryIdempotencyStore) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *MemoryIdempotencyStore) Lookup(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && time.Since(cached.CachedAt) < s.ttl {
		return &cached, true, nil
	}
	return nil, false, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, key string, resp CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.CachedAt.IsZero() {
		resp.CachedAt = time.Now()
	}
	s.entries[key] = resp
	return nil
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the cached response for a mutating request
// whose Idempotency-Key was already served successfully. scope namespaces
// keys, typically by the authenticated actor, so clients cannot replay each
// other's responses. Store failures are logged and the request proceeds.
func IdempotencyMiddleware(store IdempotencyStore, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if scope != nil {
				key = scope(r) + "|" + r.Method + " " + r.URL.Path + "|" + key
			}

			cached, ok, err := store.Lookup(r.Context(), key)
			if err != nil {
				slog.Warn("idempotency lookup failed", "error", err)
			}
			if ok {
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				resp := CachedResponse{
					StatusCode:  capture.statusCode,
					ContentType: w.Header().Get("Content-Type"),
					Body:        capture.body.Bytes(),
					CachedAt:    time.Now().UTC(),
				}
				if err := store.Save(r.Context(), key, resp); err != nil {
					slog.Warn("idempotency save failed", "error", err)
				}
			}
		})
	}
}
