package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lecsachurch/registry/pkg/store"
)

// SQLIdempotencyStore keeps idempotency keys in the registry database so
// replays survive restarts and are shared between instances.
type SQLIdempotencyStore struct {
	db  *store.DB
	ttl time.Duration
}

func NewSQLIdempotencyStore(db *store.DB, ttl time.Duration) *SQLIdempotencyStore {
	return &SQLIdempotencyStore{db: db, ttl: ttl}
}

func (s *SQLIdempotencyStore) Lookup(ctx context.Context, key string) (*CachedResponse, bool, error) {
	var (
		resp CachedResponse
		body string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status_code, content_type, body, cached_at FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&resp.StatusCode, &resp.ContentType, &body, &resp.CachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if time.Since(resp.CachedAt) > s.ttl {
		return nil, false, nil
	}
	resp.Body = []byte(body)
	return &resp, true, nil
}

func (s *SQLIdempotencyStore) Save(ctx context.Context, key string, resp CachedResponse) error {
	if resp.CachedAt.IsZero() {
		resp.CachedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, status_code, content_type, body, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET status_code = excluded.status_code,
		   content_type = excluded.content_type, body = excluded.body, cached_at = excluded.cached_at`,
		key, resp.StatusCode, resp.ContentType, string(resp.Body), resp.CachedAt)
	if err != nil {
		return fmt.Errorf("idempotency save: %w", err)
	}
	return nil
}

// Cleanup removes keys older than the TTL.
func (s *SQLIdempotencyStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE cached_at < $1`, time.Now().UTC().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("idempotency cleanup: %w", err)
	}
	return res.RowsAffected()
}
