package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/pkg/logger"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(context.Background(), &config.RedisConfig{Address: mr.Addr()}, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func snapshot(id string, score float64) *models.TrustSnapshot {
	return &models.TrustSnapshot{
		EntityID:     id,
		TrustScore:   score,
		Reputation:   0.75,
		Interactions: 4,
		UpdatedAt:    time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestTrustCache_PutGet(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewTrustCache(client, time.Minute, nil, logger.NewNoopLogger())

	require.NoError(t, c.Put(ctx, snapshot("e1", 0.4)))
	assert.True(t, mr.Exists("lct:trust:e1"))
	assert.Equal(t, time.Minute, mr.TTL("lct:trust:e1"))

	got, err := c.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.TrustScore)

	// A fresh cache with an empty L1 falls through to Redis.
	other := NewTrustCache(client, time.Minute, nil, logger.NewNoopLogger())
	got, err = other.Get(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(4), got.Interactions)
	assert.True(t, got.UpdatedAt.Equal(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestTrustCache_MissAndExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewTrustCache(client, time.Minute, nil, logger.NewNoopLogger())

	got, err := c.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Put(ctx, snapshot("e2", 0.2)))
	mr.FastForward(2 * time.Minute)

	other := NewTrustCache(client, time.Minute, nil, logger.NewNoopLogger())
	got, err = other.Get(ctx, "e2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTrustCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewTrustCache(client, 0, nil, logger.NewNoopLogger())

	require.NoError(t, c.Put(ctx, snapshot("e3", 0.5)))
	require.NoError(t, c.Invalidate(ctx, "e3"))
	assert.False(t, mr.Exists("lct:trust:e3"))

	got, err := c.Get(ctx, "e3")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTrustCache_CorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	require.NoError(t, mr.Set("lct:trust:bad", "{not json"))

	c := NewTrustCache(client, 0, nil, logger.NewNoopLogger())
	got, err := c.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("lct:trust:bad"))
}

func TestTrustCache_L1Only(t *testing.T) {
	ctx := context.Background()
	c := NewTrustCache(nil, 0, nil, logger.NewNoopLogger())

	require.NoError(t, c.Put(ctx, snapshot("e4", 0.9)))
	got, err := c.Get(ctx, "e4")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.TrustScore)

	got.TrustScore = 0
	again, err := c.Get(ctx, "e4")
	require.NoError(t, err)
	assert.Equal(t, 0.9, again.TrustScore, "callers receive copies")

	require.NoError(t, c.Invalidate(ctx, "e4"))
	got, err = c.Get(ctx, "e4")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(context.Background(), &config.RedisConfig{Address: "127.0.0.1:1"}, logger.NewNoopLogger())
	assert.Error(t, err)

	_, err = NewClient(context.Background(), &config.RedisConfig{}, logger.NewNoopLogger())
	assert.Error(t, err)
}
