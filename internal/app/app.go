// Package app wires the coaching engine from configuration. The API server
// and the worker build the same object graph; they differ only in which
// parts they run.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/habit-coach/internal/cache"
	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/decision"
	"github.com/ignite/habit-coach/internal/events"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/models"
	"github.com/ignite/habit-coach/internal/pkg/distlock"
	"github.com/ignite/habit-coach/internal/pkg/logger"
	"github.com/ignite/habit-coach/internal/repository/postgres"
	"github.com/ignite/habit-coach/internal/scheduler"
	"github.com/ignite/habit-coach/internal/segmentation"
	"github.com/ignite/habit-coach/internal/service/activity"
	"github.com/ignite/habit-coach/internal/service/coaching"
	"github.com/ignite/habit-coach/internal/service/delivery"
	"github.com/ignite/habit-coach/internal/service/prediction"
	"github.com/ignite/habit-coach/internal/service/profile"
	"github.com/ignite/habit-coach/internal/storage"
	"github.com/ignite/habit-coach/internal/templates"
	"github.com/ignite/habit-coach/internal/training"
	"github.com/ignite/habit-coach/internal/worker"
)

// generationLockTTL bounds how long one user's generation may hold its lock.
const generationLockTTL = 2 * time.Minute

// App is the wired engine.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Redis   *redis.Client
	Bus     *events.Bus
	Metrics *metrics.Metrics

	Registry    *models.Registry
	Cache       *cache.Cache
	Activities  *activity.Service
	Profiles    *profile.Service
	Predictions *prediction.Service
	Deliveries  *delivery.Service
	Coaching    *coaching.Service
	Catalog     *templates.Catalog
	Pipeline    *training.Pipeline
	Jobs        *worker.Jobs
	Scheduler   *scheduler.Scheduler

	closers []func() error
}

// Build connects every backend and wires the services. The scheduler has
// its jobs registered but is not started.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	a := &App{Config: cfg, Metrics: metrics.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (DATABASE_URL)")
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	log.Println("[App] Connected to database")

	a.Redis = connectRedis(ctx, cfg.Redis.URL)
	if a.Redis != nil {
		a.closers = append(a.closers, a.Redis.Close)
	}

	bus, err := events.Connect(cfg.NATS, a.Metrics)
	if err != nil {
		// Events are advisory; the engine runs without them.
		log.Printf("[App] Warning: %v (events disabled)", err)
	}
	if bus != nil {
		a.Bus = bus
		a.closers = append(a.closers, bus.Close)
	}

	blobs, err := storage.New(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("artifact storage: %w", err)
	}

	// Prediction path
	a.Registry = models.NewRegistry()
	tier, err := persistentTier(ctx, cfg, db, a.Redis)
	if err != nil {
		return nil, err
	}
	a.Cache = cache.New(cache.NewFastTier(cfg.Cache.FastTierSize, cfg.Cache.Shards), tier, a.Registry, cache.Options{
		TTL:     cache.TTLPolicy{Base: cfg.Cache.BaseTTL(), Min: cfg.Cache.MinTTL(), Max: cfg.Cache.MaxTTL()},
		Metrics: a.Metrics,
	})

	// Activity logged by another process invalidates this process's fast
	// tier too; the local service already invalidates its own writes.
	if a.Bus != nil {
		err := a.Bus.OnActivityLogged(func(ev events.ActivityEvent) {
			if err := a.Cache.InvalidateUser(context.Background(), ev.UserID); err != nil {
				log.Printf("[App] Warning: invalidate %s after activity event: %v", ev.UserID, err)
			}
		})
		if err != nil {
			log.Printf("[App] Warning: activity event subscription failed: %v", err)
		}
	}

	a.Activities = activity.NewService(postgres.NewActivityRepo(db), a.Cache, a.Bus)
	a.Profiles = profile.NewService(postgres.NewProfileRepo(db))

	builder := features.NewBuilder(a.Activities, cfg.Prediction.LookbackDays, cfg.Prediction.MinActivities)
	a.Predictions = prediction.NewService(builder, models.NewEngine(a.Registry), segmentation.NewDefaultEngine(), a.Cache, a.Profiles, prediction.Options{
		Deadline:      cfg.Prediction.Deadline(),
		NewAccountAge: time.Duration(cfg.Prediction.NewAccountDays) * 24 * time.Hour,
		Metrics:       a.Metrics,
	})

	// Message lifecycle
	messages := postgres.NewMessageRepo(db)
	var deliverer delivery.Deliverer = delivery.LogDeliverer{}
	if cfg.Delivery.PushGatewayURL != "" {
		deliverer = delivery.NewPushDeliverer(cfg.Delivery.PushGatewayURL, cfg.Delivery.PushGatewayToken,
			cfg.Delivery.Timeout(), 2, cfg.Delivery.BackoffBase())
	} else {
		log.Println("[App] No push gateway configured, deliveries are logged only")
	}
	a.Deliveries = delivery.NewService(messages, messages, delivery.NewTracker(messages, a.Metrics), deliverer, delivery.Options{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		ExpireAfter: cfg.Delivery.ExpireAfter(),
		Metrics:     a.Metrics,
	})

	// Generation
	tplRepo := postgres.NewTemplateRepo(db)
	renderer := templates.NewRenderer()
	a.Catalog = templates.NewCatalog(tplRepo, renderer)
	locks := distlock.NewFactory(a.Redis, db)
	a.Coaching = coaching.NewService(
		a.Predictions,
		builder,
		a.Profiles,
		coaching.NewMessages(a.Deliveries),
		templates.NewSelector(tplRepo, renderer, cfg.Templates.ExperimentID),
		decision.NewEngine(decision.FromConfig(cfg.Decision)),
		locks,
		coaching.Options{LockTTL: generationLockTTL, Metrics: a.Metrics},
	)

	// Training
	dataset, err := a.trainingDataset(cfg.Training)
	if err != nil {
		return nil, err
	}
	a.Pipeline = training.NewPipeline(a.Registry, dataset,
		training.NewTrainer(training.Options{
			Folds:           cfg.Training.CVFolds,
			HoldoutFraction: cfg.Training.HoldoutFraction,
			LearningRates:   cfg.Training.LearningRates,
			L2Penalties:     cfg.Training.L2Penalties,
			Epochs:          cfg.Training.Epochs,
			SmoothingGrid:   cfg.Training.TimingSmoothingGrid,
			TopK:            cfg.Decision.PeakWindows,
		}),
		postgres.NewModelRepo(db), blobs, a.Cache, a.Bus, a.Activities,
		training.PipelineOptions{
			WindowDays:       cfg.Training.WindowDays,
			HorizonDays:      cfg.Training.LabelHorizonDays,
			MinActivities:    cfg.Prediction.MinActivities,
			Tolerance:        cfg.Training.Tolerance,
			MaxModelAge:      cfg.Training.MaxModelAge(),
			MinNewActivities: cfg.Training.MinNewActivities,
			GracePeriod:      cfg.Training.GracePeriod(),
			Metrics:          a.Metrics,
		})

	// Background jobs
	a.Jobs = worker.New(worker.Deps{
		Generator:  a.Coaching,
		Users:      a.Activities,
		Deliveries: a.Deliveries,
		Cache:      a.Cache,
		Retrainer:  a.Pipeline,
		Warmer:     a.Predictions,
	}, cfg.Scheduler)
	a.Scheduler = scheduler.New(locks, a.Metrics)
	if err := a.Jobs.Register(a.Scheduler); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	ok = true
	return a, nil
}

// Restore reloads the model registry from the recorded versions.
func (a *App) Restore(ctx context.Context) {
	n, err := a.Pipeline.Restore(ctx)
	if err != nil {
		log.Printf("[App] Warning: model restore failed: %v (serving rule fallbacks)", err)
		return
	}
	log.Printf("[App] Restored %d model version(s)", n)
}

// WatchModels re-reads the recorded model versions every interval and
// reloads the registry when the active set changed. It runs until ctx is
// done and does not depend on the event bus.
func (a *App) WatchModels(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := a.Pipeline.Sync(ctx)
			if err != nil {
				log.Printf("[App] Warning: model sync failed: %v", err)
				continue
			}
			if changed {
				log.Println("[App] Model versions changed, registry reloaded")
			}
		}
	}
}

// Close releases every backend in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[App] close error: %v", err)
		}
	}
	a.closers = nil
}

// connectRedis returns nil when Redis is unset or unreachable; callers
// fall back to PostgreSQL for locks and the cache tier.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("[App] Warning: Redis connection failed (%s): %v, falling back to PG advisory locks", url, err)
		client.Close()
		return nil
	}
	log.Printf("[App] Redis connected: %s", url)
	return client
}

func persistentTier(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client) (cache.Tier, error) {
	switch cfg.Cache.PersistentBackend {
	case "postgres":
		return postgres.NewPredictionCacheTier(db), nil
	case "redis":
		if rdb == nil {
			log.Println("[App] Warning: redis cache tier requested without Redis, using postgres")
			return postgres.NewPredictionCacheTier(db), nil
		}
		return cache.NewRedisTier(rdb, 0), nil
	case "dynamodb":
		t, err := cache.NewDynamoTierFromConfig(ctx, cfg.Cache.DynamoDBTable, cfg.Cache.DynamoDBRegion, cfg.Artifacts.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("dynamodb cache tier: %w", err)
		}
		return t, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.PersistentBackend)
}

func (a *App) trainingDataset(cfg config.TrainingConfig) (training.Dataset, error) {
	if cfg.DatasetSource != "sql" {
		return training.NewActivityDataset(a.Activities), nil
	}
	dsn := cfg.SnowflakeDSN
	if cfg.SQLDriver == "postgres" {
		dsn = a.Config.Database.URL
	}
	ds, err := training.OpenSQLDataset(cfg.SQLDriver, dsn, cfg.DatasetQuery)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, ds.Close)
	log.Printf("[App] Training dataset: %s warehouse export", cfg.SQLDriver)
	return ds, nil
}
