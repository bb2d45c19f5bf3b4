//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/pkg/logger"
)

func TestTrustCache_RealRedis(t *testing.T) {
	if os.Getenv("SKIP_DOCKER_TESTS") == "true" {
		t.Skip("Skipping Docker-dependent tests")
	}

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	resource, err := pool.Run("redis", "7-alpine", nil)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, pool.Purge(resource))
	}()

	ctx := context.Background()
	cfg := &config.RedisConfig{Address: "localhost:" + resource.GetPort("6379/tcp")}
	log := logger.NewNoopLogger()

	pool.MaxWait = time.Minute
	require.NoError(t, pool.Retry(func() error {
		client, err := NewClient(ctx, cfg, log)
		if err != nil {
			return err
		}
		return client.Close()
	}))

	client, err := NewClient(ctx, cfg, log)
	require.NoError(t, err)
	defer client.Close()

	writer := NewTrustCache(client, time.Minute, nil, log)
	require.NoError(t, writer.Put(ctx, snapshot("real", 0.35)))

	reader := NewTrustCache(client, time.Minute, nil, log)
	got, err := reader.Get(ctx, "real")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.35, got.TrustScore)

	ttl, err := client.TTL(ctx, "lct:trust:real").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
