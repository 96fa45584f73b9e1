package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/habit-coach/internal/domain"
)

const (
	redisKeyPrefix     = "coach:pred:"
	redisVersionPrefix = "coach:predver:"
)

// RedisTier keeps entries as JSON under coach:pred:<user>:<type> with a
// native expiry, and indexes keys per model version in a set so a model
// swap can drop them in bulk.
type RedisTier struct {
	client   *redis.Client
	indexTTL time.Duration
	now      func() time.Time
}

// NewRedisTier creates the tier. indexTTL must outlive the longest entry
// TTL; version sets are refreshed to it on every write.
func NewRedisTier(client *redis.Client, indexTTL time.Duration) *RedisTier {
	if indexTTL <= 0 {
		indexTTL = 2 * DefaultTTLPolicy.Max
	}
	return &RedisTier{client: client, indexTTL: indexTTL, now: time.Now}
}

func (t *RedisTier) Name() string { return "redis" }

func redisKey(userID string, pt domain.PredictionType) string {
	return redisKeyPrefix + userID + ":" + string(pt)
}

func (t *RedisTier) Get(ctx context.Context, userID string, pt domain.PredictionType) (*Entry, error) {
	data, err := t.client.Get(ctx, redisKey(userID, pt)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

func (t *RedisTier) Set(ctx context.Context, e *Entry) error {
	ttl := e.ExpiresAt.Sub(t.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := redisKey(e.Result.UserID, e.Result.Type)
	verKey := redisVersionPrefix + e.Result.ModelVersion

	pipe := t.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, verKey, key)
	pipe.Expire(ctx, verKey, t.indexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (t *RedisTier) DeleteUser(ctx context.Context, userID string) error {
	types := domain.AllPredictionTypes()
	keys := make([]string, len(types))
	for i, pt := range types {
		keys[i] = redisKey(userID, pt)
	}
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteVersion removes every key indexed under version. Keys that were
// rewritten under a newer version since are left alone.
func (t *RedisTier) DeleteVersion(ctx context.Context, version string) (int, error) {
	verKey := redisVersionPrefix + version
	keys, err := t.client.SMembers(ctx, verKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	removed := 0
	for _, key := range keys {
		e, err := t.getKey(ctx, key)
		if err != nil {
			return removed, err
		}
		if e == nil || e.Result.ModelVersion != version {
			continue
		}
		n, err := t.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
	}
	if err := t.client.Del(ctx, verKey).Err(); err != nil {
		return removed, fmt.Errorf("redis del index: %w", err)
	}
	return removed, nil
}

// PurgeExpired is a no-op: Redis expires keys itself.
func (t *RedisTier) PurgeExpired(context.Context, time.Time) (int, error) { return 0, nil }

func (t *RedisTier) getKey(ctx context.Context, key string) (*Entry, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Result == nil {
		return nil, nil
	}
	return &e, nil
}

// WithClock overrides the clock used to turn expiries into Redis TTLs.
func (t *RedisTier) WithClock(now func() time.Time) *RedisTier {
	t.now = now
	return t
}
