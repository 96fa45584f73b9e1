package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/cache"
	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/training"
)

func TestPersistentTier_Selection(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	tier, err := persistentTier(ctx, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", tier.Name())

	cfg.Cache.PersistentBackend = "none"
	tier, err = persistentTier(ctx, cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, tier)

	// Redis requested but unavailable falls back to postgres.
	cfg.Cache.PersistentBackend = "redis"
	tier, err = persistentTier(ctx, cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres", tier.Name())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	tier, err = persistentTier(ctx, cfg, nil, rdb)
	require.NoError(t, err)
	assert.IsType(t, &cache.RedisTier{}, tier)

	cfg.Cache.PersistentBackend = "memcached"
	_, err = persistentTier(ctx, cfg, nil, nil)
	assert.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	assert.Nil(t, connectRedis(context.Background(), ""))

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client := connectRedis(context.Background(), "redis://"+addr)
	require.NotNil(t, client)
	client.Close()

	mr.Close()
	assert.Nil(t, connectRedis(context.Background(), "redis://"+addr))
}

func TestTrainingDataset(t *testing.T) {
	a := &App{Config: config.Default()}

	ds, err := a.trainingDataset(a.Config.Training)
	require.NoError(t, err)
	assert.IsType(t, &training.ActivityDataset{}, ds)

	cfg := a.Config.Training
	cfg.DatasetSource = "sql"
	cfg.SQLDriver = "snowflake"
	_, err = a.trainingDataset(cfg)
	assert.Error(t, err, "snowflake without a DSN")
	assert.Empty(t, a.closers)
}
