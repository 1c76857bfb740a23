package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lecsachurch/registry/pkg/api"
	"github.com/lecsachurch/registry/pkg/archive"
	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/auth"
	"github.com/lecsachurch/registry/pkg/authz"
	"github.com/lecsachurch/registry/pkg/config"
	"github.com/lecsachurch/registry/pkg/identity"
	"github.com/lecsachurch/registry/pkg/limiter"
	"github.com/lecsachurch/registry/pkg/members"
	"github.com/lecsachurch/registry/pkg/metrics"
	"github.com/lecsachurch/registry/pkg/observability"
	"github.com/lecsachurch/registry/pkg/records"
	"github.com/lecsachurch/registry/pkg/server"
	"github.com/lecsachurch/registry/pkg/store"
)

const idempotencySweep = 10 * time.Minute

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := commonRun()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveRun(ctx, cfg)
		},
	}
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", programName)
	logger.Info("starting", "version", version, "commit", commit, "environment", cfg.Environment)

	roles, err := config.LoadRoles(cfg.RolesFile)
	if err != nil {
		return err
	}
	keys, err := identity.NewSecretKeySet(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("REGISTRY_JWT_SECRET: %w", err)
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    programName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEnabled,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	m := metrics.New()
	logs := newAuditLogger(cfg, db, os.Stderr)
	m.RegisterAuditFailures(logs.Failures)

	var limStore limiter.Store = limiter.NewInMemoryStore()
	if cfg.RedisAddr != "" {
		rs := limiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = rs.Close() }()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, rate limiter will fail open until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		limStore = rs
	}
	ipLimiter := api.NewGlobalRateLimiter(cfg.IPRateLimit, cfg.IPBurst)
	defer ipLimiter.Stop()

	idem := api.NewSQLIdempotencyStore(db, cfg.IdempotencyTTL)
	go sweepIdempotency(ctx, idem)

	evaluator := authz.NewEvaluator(roles)
	if cfg.RolesFile != "" {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go watchRoles(ctx, cfg.RolesFile, evaluator, hup)
	}

	srv := server.New(server.Deps{
		DB:          db,
		Members:     members.NewService(db, logs),
		Archive:     archive.NewService(db, logs, archive.WithTracker(telemetry), archive.WithObserver(m)),
		Baptisms:    records.NewBaptisms(db, logs),
		Weddings:    records.NewWeddings(db, logs),
		Users:       auth.NewUsers(db, logs),
		AuditLog:    logs,
		Exporter:    audit.NewExporter(logs),
		Evaluator:   evaluator,
		Tokens:      identity.NewTokenManager(keys),
		Validator:   auth.NewJWTValidator(keys),
		TokenTTL:    cfg.TokenTTL,
		Metrics:     m,
		Limiter:     limStore,
		Policy:      limiter.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst},
		IPLimiter:   ipLimiter,
		Idempotency: idem,
		CORSOrigins: cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func sweepIdempotency(ctx context.Context, idem *api.SQLIdempotencyStore) {
	ticker := time.NewTicker(idempotencySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := idem.Cleanup(ctx)
			if err != nil {
				slog.Warn("idempotency sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("idempotency keys expired", "count", n)
			}
		}
	}
}

// newAuditLogger mirrors audit events as JSON lines to w when
// REGISTRY_AUDIT_STREAM is set.
func newAuditLogger(cfg *config.Config, db *store.DB, w io.Writer) *audit.SQLLogger {
	var mirror *audit.StreamLogger
	if cfg.AuditStream {
		mirror = audit.NewStreamLogger(w)
	}
	return audit.NewSQLLogger(db, mirror)
}

// watchRoles reloads the role file each time reload fires.
func watchRoles(ctx context.Context, path string, e *authz.Evaluator, reload <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			if err := config.ReloadRoles(path, e); err != nil {
				slog.Error("role reload failed, keeping previous roles", "path", path, "error", err)
				continue
			}
			slog.Info("roles reloaded", "path", path, "roles", e.Roles())
		}
	}
}
