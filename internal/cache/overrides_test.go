package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/airelay/internal/state"
)

func setupTestPersister(t *testing.T) (*OverridesPersister, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := &Config{Addr: mr.Addr(), PoolSize: 5, DialTimeout: time.Second, ReadTimeout: time.Second}
	rc, err := NewRedisCache(cfg, nil)
	require.NoError(t, err)

	return NewOverridesPersister(rc, nil), mr
}

func TestOverridesPersister_RoundTrip(t *testing.T) {
	p, mr := setupTestPersister(t)
	defer mr.Close()

	ctx := context.Background()
	p.SaveSessionConfig(ctx, "sess-1", "backup")
	p.SaveSessionEffort(ctx, "sess-1", "high")
	p.SaveGlobalConfig(ctx, "main")

	restored := state.NewOverrides()
	p.Restore(ctx, restored)

	name, ok := restored.SessionConfig("sess-1")
	assert.True(t, ok)
	assert.Equal(t, "backup", name)

	effort, ok := restored.SessionEffort("sess-1")
	assert.True(t, ok)
	assert.Equal(t, "high", effort)

	global, ok := restored.GlobalConfig()
	assert.True(t, ok)
	assert.Equal(t, "main", global)
}

func TestOverridesPersister_ClearRemovesFromRestore(t *testing.T) {
	p, mr := setupTestPersister(t)
	defer mr.Close()

	ctx := context.Background()
	p.SaveSessionConfig(ctx, "sess-1", "backup")
	p.ClearSessionConfig(ctx, "sess-1")

	p.SaveSessionEffort(ctx, "sess-2", "low")
	p.ClearSessionEffort(ctx, "sess-2")

	p.SaveGlobalConfig(ctx, "main")
	p.ClearGlobalConfig(ctx)

	restored := state.NewOverrides()
	p.Restore(ctx, restored)

	_, ok := restored.SessionConfig("sess-1")
	assert.False(t, ok)

	_, ok = restored.SessionEffort("sess-2")
	assert.False(t, ok)

	_, ok = restored.GlobalConfig()
	assert.False(t, ok)
}

func TestOverridesPersister_NilCacheIsNoOp(t *testing.T) {
	p := NewOverridesPersister(nil, nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		p.SaveSessionConfig(ctx, "sess-1", "backup")
		p.ClearSessionConfig(ctx, "sess-1")
		p.SaveSessionEffort(ctx, "sess-1", "high")
		p.ClearSessionEffort(ctx, "sess-1")
		p.SaveGlobalConfig(ctx, "main")
		p.ClearGlobalConfig(ctx)
		p.Restore(ctx, state.NewOverrides())
	})
}
