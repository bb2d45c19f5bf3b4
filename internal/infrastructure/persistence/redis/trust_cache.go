package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/lct/internal/domain/models"
	"github.com/turtacn/lct/internal/domain/service"
	"github.com/turtacn/lct/pkg/constants"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// TrustCache publishes trust snapshots in two tiers: a short-lived in-process
// cache (L1) in front of Redis (L2). A nil client degrades to L1 only.
type TrustCache struct {
	client  redis.UniversalClient
	l1      *cache.Cache
	ttl     time.Duration
	metrics service.Metrics
	logger  logger.Logger
}

var _ service.TrustSnapshotCache = (*TrustCache)(nil)

// NewTrustCache creates the cache. ttl is the Redis lifetime; zero uses the default.
func NewTrustCache(client redis.UniversalClient, ttl time.Duration, metrics service.Metrics, log logger.Logger) *TrustCache {
	if ttl <= 0 {
		ttl = constants.TrustSnapshotCacheTTL
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &TrustCache{
		client:  client,
		l1:      cache.New(constants.TrustSnapshotL1TTL, 2*constants.TrustSnapshotL1TTL),
		ttl:     ttl,
		metrics: metrics,
		logger:  log.WithComponent("TrustCache"),
	}
}

func key(entityID string) string {
	return constants.TrustSnapshotKeyPrefix + entityID
}

// Put stores the snapshot in both tiers.
func (c *TrustCache) Put(ctx context.Context, snapshot *models.TrustSnapshot) error {
	copied := *snapshot
	c.l1.SetDefault(snapshot.EntityID, &copied)
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.ErrInternal("encode trust snapshot: " + err.Error())
	}
	if err := c.client.Set(ctx, key(snapshot.EntityID), data, c.ttl).Err(); err != nil {
		return errors.ErrPersistence("publish trust snapshot", err)
	}
	return nil
}

// Get consults L1, then Redis. A miss in both returns (nil, nil).
func (c *TrustCache) Get(ctx context.Context, entityID string) (*models.TrustSnapshot, error) {
	if v, ok := c.l1.Get(entityID); ok {
		c.metrics.RecordCacheAccess("l1", true)
		copied := *v.(*models.TrustSnapshot)
		return &copied, nil
	}
	c.metrics.RecordCacheAccess("l1", false)
	if c.client == nil {
		return nil, nil
	}

	data, err := c.client.Get(ctx, key(entityID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		c.metrics.RecordCacheAccess("l2", false)
		return nil, nil
	}
	if err != nil {
		return nil, errors.ErrPersistence("read trust snapshot", err)
	}
	c.metrics.RecordCacheAccess("l2", true)

	var snapshot models.TrustSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Warn(ctx, "Dropping undecodable trust snapshot", logger.String("entity_id", entityID), logger.Err(err))
		_ = c.client.Del(ctx, key(entityID)).Err()
		return nil, nil
	}
	copied := snapshot
	c.l1.SetDefault(entityID, &copied)
	return &snapshot, nil
}

// Invalidate drops the snapshot from both tiers.
func (c *TrustCache) Invalidate(ctx context.Context, entityID string) error {
	c.l1.Delete(entityID)
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key(entityID)).Err(); err != nil {
		return errors.ErrPersistence("invalidate trust snapshot", err)
	}
	return nil
}
