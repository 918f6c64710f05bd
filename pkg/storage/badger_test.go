package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/auth"
)

func newTestEngine(t *testing.T) *BadgerEngine {
	t.Helper()
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestBadgerEngineLifecycle(t *testing.T) {
	t.Run("persists_across_reopen", func(t *testing.T) {
		dir := t.TempDir()
		engine, err := NewBadgerEngine(dir)
		require.NoError(t, err)

		acct := &auth.Account{ID: "a1", Email: "a@example.com", Role: auth.RoleAdmin, IsActive: true}
		require.NoError(t, engine.CreateAccount(context.Background(), acct))
		require.NoError(t, engine.Sync())
		require.NoError(t, engine.Close())

		engine, err = NewBadgerEngine(dir)
		require.NoError(t, err)
		defer engine.Close()

		got, err := engine.GetAccountByEmail(context.Background(), "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ID)
	})

	t.Run("closed_engine_rejects_calls", func(t *testing.T) {
		engine, err := NewBadgerEngineInMemory()
		require.NoError(t, err)
		require.NoError(t, engine.Close())
		require.NoError(t, engine.Close())

		_, err = engine.GetAccountByID(context.Background(), "x")
		assert.ErrorIs(t, err, ErrStorageClosed)
		assert.ErrorIs(t, engine.RunGC(), ErrStorageClosed)
		assert.ErrorIs(t, engine.Ping(context.Background()), ErrStorageClosed)
		lsm, vlog := engine.Size()
		assert.Zero(t, lsm)
		assert.Zero(t, vlog)
		_, err = engine.Stats(context.Background())
		assert.ErrorIs(t, err, ErrStorageClosed)
	})

	t.Run("stats_count_audit_records", func(t *testing.T) {
		engine := newTestEngine(t)
		ctx := context.Background()
		for _, email := range []string{"a@example.com", "b@example.com"} {
			require.NoError(t, engine.AppendAudit(ctx, &audit.Record{
				Action: audit.ActionLoginFailed, Status: audit.StatusFailed, Email: email,
			}))
		}
		stats, err := engine.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.AuditRecords)
	})

	t.Run("gc_in_memory_is_noop", func(t *testing.T) {
		engine := newTestEngine(t)
		assert.NoError(t, engine.RunGC())
	})
}

func TestKeyEncoding(t *testing.T) {
	assert.Equal(t, []byte{prefixAccount, 'a', 'b'}, key(prefixAccount, "ab"))
	assert.Equal(t, []byte{prefixAuditIP, '1', 0x00, 'x'}, key(prefixAuditIP, "1", "x"))
	assert.Equal(t, []byte{prefixAuditIP, '1', 0x00}, indexPrefix(prefixAuditIP, "1"))
}

// fixedClock returns a clock pinned to t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
