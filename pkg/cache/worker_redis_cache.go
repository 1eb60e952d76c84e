package cache

import (
	"context"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	snapshotPrefix = "features:"
	sentPrefix     = "sent:"

	// Daily counters outlive their day so late retries still see them.
	sentCounterTTL = 48 * time.Hour
)

// RedisCache is the Redis-backed feature snapshot cache and send counter store.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

var _ out.FeatureCache = (*RedisCache)(nil)

// GetJSON decodes a JSON value. found is false when the key is missing.
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value as JSON.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) GetSnapshot(ctx context.Context, email string) (*domain.FeatureSnapshot, error) {
	var snap domain.FeatureSnapshot
	found, err := c.GetJSON(ctx, snapshotPrefix+domain.NormalizeEmail(email), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (c *RedisCache) SetSnapshot(ctx context.Context, snapshot *domain.FeatureSnapshot, ttl time.Duration) error {
	return c.SetJSON(ctx, snapshotPrefix+snapshot.UserEmail, snapshot, ttl)
}

// sentKey is sent:<email>:<yyyymmdd> in UTC.
func sentKey(email string, day time.Time) string {
	return sentPrefix + domain.NormalizeEmail(email) + ":" + day.UTC().Format("20060102")
}

func (c *RedisCache) IncrSentToday(ctx context.Context, email string, day time.Time) (int64, error) {
	key := sentKey(email, day)
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, sentCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) SentToday(ctx context.Context, email string, day time.Time) (int64, error) {
	n, err := c.client.Get(ctx, sentKey(email, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
