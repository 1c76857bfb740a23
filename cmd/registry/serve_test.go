package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecsachurch/registry/pkg/audit"
	"github.com/lecsachurch/registry/pkg/authz"
	"github.com/lecsachurch/registry/pkg/config"
	"github.com/lecsachurch/registry/pkg/store/storetest"
)

func TestNewAuditLogger_StreamFlag(t *testing.T) {
	db := storetest.Open(t)
	ctx := context.Background()

	var off bytes.Buffer
	newAuditLogger(&config.Config{}, db, &off).Record(ctx, audit.NewEvent("u1", audit.ActionAddMember, nil))
	assert.Empty(t, off.String())

	var on bytes.Buffer
	newAuditLogger(&config.Config{AuditStream: true}, db, &on).Record(ctx, audit.NewEvent("u1", audit.ActionAddMember, nil))
	assert.Contains(t, on.String(), "AUDIT: ")
	assert.Contains(t, on.String(), audit.ActionAddMember)
}

func TestWatchRoles_ReloadsOnSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  clerk: [view]\n"), 0o600))
	roles, err := config.LoadRoles(path)
	require.NoError(t, err)
	e := authz.NewEvaluator(roles)

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan os.Signal, 1)
	done := make(chan struct{})
	go func() {
		watchRoles(ctx, path, e, reload)
		close(done)
	}()

	require.NoError(t, os.WriteFile(path, []byte("roles:\n  clerk: [view, add]\n"), 0o600))
	reload <- syscall.SIGHUP
	assert.Eventually(t, func() bool {
		return e.Check("clerk", authz.ActionAdd).Allowed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchRoles did not stop after cancel")
	}
}
