package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := &Config{
		Addr:        mr.Addr(),
		PoolSize:    5,
		DialTimeout: time.Second,
		ReadTimeout: time.Second,
	}
	c, err := NewRedisCache(cfg, nil)
	require.NoError(t, err)

	return c, mr
}

func TestRedisCache_SetGet(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))

	var got string
	require.NoError(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, "v1", got)
}

func TestRedisCache_Get_NotFound(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()
	defer c.Close()

	var got string
	err := c.Get(context.Background(), "missing", &got)
	assert.True(t, IsNotFound(err))
}

func TestRedisCache_Delete(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))

	err := c.Delete(ctx, "k1")
	assert.True(t, IsNotFound(err))
}

func TestRedisCache_Exists(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
	exists, err = c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisCache_SetMembers(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.SAdd(ctx, "myset", "a", "b"))

	members, err := c.SMembers(ctx, "myset")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, c.SRem(ctx, "myset", "a"))
	members, err = c.SMembers(ctx, "myset")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestRedisCache_HealthCheckAndPing(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()
	defer c.Close()

	ctx := context.Background()
	assert.NoError(t, c.HealthCheck(ctx))
	assert.NoError(t, c.Ping(ctx))
}

func TestRedisCache_OperationsAfterClose(t *testing.T) {
	c, mr := setupTestRedis(t)
	defer mr.Close()

	require.NoError(t, c.Close())

	err := c.Set(context.Background(), "k", "v", time.Minute)
	assert.True(t, IsConnectionError(err))
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := &Config{Addr: "localhost:6379", PoolSize: 10, DialTimeout: time.Second}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty address", func(t *testing.T) {
		cfg := &Config{PoolSize: 10, DialTimeout: time.Second}
		assert.Equal(t, ErrInvalidConfig, cfg.Validate())
	})

	t.Run("non-positive pool size", func(t *testing.T) {
		cfg := &Config{Addr: "localhost:6379", DialTimeout: time.Second}
		assert.Equal(t, ErrInvalidConfig, cfg.Validate())
	})

	t.Run("non-positive dial timeout", func(t *testing.T) {
		cfg := &Config{Addr: "localhost:6379", PoolSize: 10}
		assert.Equal(t, ErrInvalidConfig, cfg.Validate())
	})
}
