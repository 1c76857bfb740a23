package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lecsachurch/registry/pkg/authz"
	"github.com/lecsachurch/registry/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"REGISTRY_LISTEN_ADDR", "REGISTRY_DB_DRIVER", "REGISTRY_LOG_LEVEL", "REGISTRY_TOKEN_TTL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.False(t, cfg.OTLPEnabled)
	assert.False(t, cfg.AuditStream)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REGISTRY_LISTEN_ADDR", ":9090")
	t.Setenv("REGISTRY_DB_DRIVER", "pgx")
	t.Setenv("REGISTRY_DATABASE_URL", "postgres://registry@db:5432/registry")
	t.Setenv("REGISTRY_LOG_LEVEL", "debug")
	t.Setenv("REGISTRY_TOKEN_TTL", "2h")
	t.Setenv("REGISTRY_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("REGISTRY_RATE_LIMIT_RPM", "10")
	t.Setenv("REGISTRY_AUDIT_STREAM", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "pgx", cfg.DBDriver)
	assert.Equal(t, "postgres://registry@db:5432/registry", cfg.DatabaseURL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 10, cfg.RateLimitRPM)
	assert.True(t, cfg.AuditStream)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"REGISTRY_DB_DRIVER":  "mysql",
		"REGISTRY_LOG_FORMAT": "xml",
		"REGISTRY_LOG_LEVEL":  "chatty",
		"REGISTRY_TOKEN_TTL":  "-1h",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := config.Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRoles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  clerk: [view, add]\n  admin: [view, add, update, archive, admin]\n"), 0o600))

	roles, err := config.LoadRoles(path)
	require.NoError(t, err)
	assert.Equal(t, []authz.Action{authz.ActionView, authz.ActionAdd}, roles["clerk"])
	assert.True(t, authz.NewEvaluator(roles).Check("clerk", authz.ActionAdd).Allowed)

	none, err := config.LoadRoles("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestLoadRoles_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := config.LoadRoles(write("unknown.yaml", "roles:\n  clerk: [view, delete]\n"))
	require.ErrorContains(t, err, `unknown action "delete"`)

	_, err = config.LoadRoles(write("empty.yaml", "roles: {}\n"))
	require.ErrorContains(t, err, "no roles defined")

	_, err = config.LoadRoles(write("broken.yaml", "roles: [\n"))
	require.Error(t, err)

	_, err = config.LoadRoles(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestReloadRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  clerk: [view]\n"), 0o600))

	roles, err := config.LoadRoles(path)
	require.NoError(t, err)
	e := authz.NewEvaluator(roles)
	assert.False(t, e.Check("clerk", authz.ActionAdd).Allowed)

	require.NoError(t, os.WriteFile(path, []byte("roles:\n  clerk: [view, add]\n"), 0o600))
	require.NoError(t, config.ReloadRoles(path, e))
	assert.True(t, e.Check("clerk", authz.ActionAdd).Allowed)

	require.NoError(t, os.WriteFile(path, []byte("roles:\n  clerk: [view, delete]\n"), 0o600))
	require.ErrorContains(t, config.ReloadRoles(path, e), `unknown action "delete"`)
	assert.True(t, e.Check("clerk", authz.ActionAdd).Allowed, "a bad file keeps the previous table")
}
