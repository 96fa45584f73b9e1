package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/scheduler"
	"github.com/ignite/habit-coach/internal/service/coaching"
	"github.com/ignite/habit-coach/internal/service/delivery"
	"github.com/ignite/habit-coach/internal/service/prediction"
	"github.com/ignite/habit-coach/internal/training"
)

// Job names, also used as lock keys and metric labels.
const (
	JobGeneration = "generation"
	JobDelivery   = "delivery"
	JobRollup     = "rollup"
	JobCleanup    = "cleanup"
	JobHealth     = "health"
	JobRetrain    = "retrain"
	JobWarm       = "warm"
)

// Generator runs the generation sweep. *coaching.Service implements it.
type Generator interface {
	Sweep(ctx context.Context, users coaching.Users, opts coaching.SweepOptions) (coaching.SweepResult, error)
}

// Deliveries is the message lifecycle side. *delivery.Service implements it.
type Deliveries interface {
	DeliverDue(ctx context.Context, batchSize, parallelism int) (delivery.SweepResult, error)
	Rollup(ctx context.Context, day time.Time) ([]domain.MessageRollup, error)
	Cleanup(ctx context.Context, retention, actedRetention time.Duration) (int, error)
	CheckHealth(ctx context.Context, grace time.Duration) (domain.QueueHealth, error)
}

// Purger drops expired persistent cache rows. *cache.Cache implements it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Retrainer runs the training pipeline. *training.Pipeline implements it.
type Retrainer interface {
	Run(ctx context.Context, force bool) (*training.Report, error)
}

// Warmer precomputes predictions. *prediction.Service implements it.
type Warmer interface {
	Warm(ctx context.Context, userIDs []string, parallelism int) (prediction.WarmResult, error)
}

// Deps are the collaborators the jobs drive. A nil dependency disables
// the jobs that need it.
type Deps struct {
	Generator  Generator
	Users      coaching.Users
	Deliveries Deliveries
	Cache      Purger
	Retrainer  Retrainer
	Warmer     Warmer
}

// Jobs holds the bodies of the coaching background jobs.
type Jobs struct {
	deps Deps
	cfg  config.SchedulerConfig
	now  func() time.Time
}

// New creates the job set.
func New(deps Deps, cfg config.SchedulerConfig) *Jobs {
	return &Jobs{deps: deps, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (j *Jobs) WithClock(now func() time.Time) *Jobs {
	j.now = now
	return j
}

// Register adds every enabled job whose dependencies are present.
func (j *Jobs) Register(s *scheduler.Scheduler) error {
	type entry struct {
		name  string
		cfg   config.JobConfig
		ready bool
		run   scheduler.Func
	}
	entries := []entry{
		{JobGeneration, j.cfg.Generation, j.deps.Generator != nil && j.deps.Users != nil, j.Generate},
		{JobDelivery, j.cfg.Delivery, j.deps.Deliveries != nil, j.Deliver},
		{JobRollup, j.cfg.Rollup, j.deps.Deliveries != nil, j.Rollup},
		{JobCleanup, j.cfg.Cleanup, j.deps.Deliveries != nil, j.Cleanup},
		{JobHealth, j.cfg.Health, j.deps.Deliveries != nil, j.Health},
		{JobRetrain, j.cfg.Retrain, j.deps.Retrainer != nil, j.Retrain},
		{JobWarm, j.cfg.Warm, j.deps.Warmer != nil && j.deps.Users != nil, j.Warm},
	}
	for _, sp := range entries {
		if sp.cfg.Disabled || !sp.ready {
			log.Printf("[Worker] Job %s not registered (disabled=%v)", sp.name, sp.cfg.Disabled)
			continue
		}
		if err := s.Register(scheduler.FromConfig(sp.name, sp.cfg, sp.run)); err != nil {
			return err
		}
	}
	return nil
}

func (j *Jobs) activeWithin() time.Duration {
	return time.Duration(j.cfg.ActiveWithinDays) * 24 * time.Hour
}

// =============================================================================
// GENERATION: one decision cycle per recently active user
// =============================================================================

// Generate runs the generation sweep over recently active users.
func (j *Jobs) Generate(ctx context.Context) (string, error) {
	res, err := j.deps.Generator.Sweep(ctx, j.deps.Users, coaching.SweepOptions{
		ActiveWithin: j.activeWithin(),
		BatchSize:    j.cfg.BatchSize,
		Parallelism:  j.cfg.Parallelism,
	})
	summary := fmt.Sprintf("users=%d fired=%d suppressed=%d idle=%d skipped=%d busy=%d errors=%d",
		res.Users, res.Fired, res.Suppressed, res.Idle, res.Skipped, res.Busy, res.Errors)
	if err != nil {
		return summary, fmt.Errorf("generation sweep: %w", err)
	}
	if res.Errors > 0 {
		log.Printf("[Generation] %d of %d users failed this cycle", res.Errors, res.Users)
	}
	return summary, nil
}

// =============================================================================
// DELIVERY: scheduled messages whose time has arrived
// =============================================================================

// Deliver runs one delivery sweep.
func (j *Jobs) Deliver(ctx context.Context) (string, error) {
	res, err := j.deps.Deliveries.DeliverDue(ctx, j.cfg.BatchSize, j.cfg.Parallelism)
	summary := fmt.Sprintf("due=%d delivered=%d retrying=%d failed=%d expired=%d",
		res.Due, res.Delivered, res.Retrying, res.Failed, res.Expired)
	if err != nil {
		return summary, fmt.Errorf("delivery sweep: %w", err)
	}
	return summary, nil
}

// =============================================================================
// ROLLUP: daily analytics for the previous UTC day
// =============================================================================

// Rollup aggregates yesterday's messages.
func (j *Jobs) Rollup(ctx context.Context) (string, error) {
	day := j.now().UTC().AddDate(0, 0, -1)
	rows, err := j.deps.Deliveries.Rollup(ctx, day)
	if err != nil {
		return "", fmt.Errorf("rollup: %w", err)
	}
	return fmt.Sprintf("day=%s rows=%d", day.Format("2006-01-02"), len(rows)), nil
}

// =============================================================================
// CLEANUP: message retention and persistent cache expiry
// =============================================================================
// Retention policies:
//   - messages:           RetentionDays
//   - acted-on messages:  ActedRetentionDays
//   - cache rows:         their own expires_at

// CleanupResult summarises a cleanup pass.
type CleanupResult struct {
	Messages  int `json:"messages_deleted"`
	CacheRows int `json:"cache_rows_purged"`
}

// Cleanup applies the configured retention.
func (j *Jobs) Cleanup(ctx context.Context) (string, error) {
	res, err := j.CleanupOlderThan(ctx,
		time.Duration(j.cfg.RetentionDays)*24*time.Hour,
		time.Duration(j.cfg.ActedRetentionDays)*24*time.Hour)
	return fmt.Sprintf("messages=%d cache_rows=%d", res.Messages, res.CacheRows), err
}

// CleanupOlderThan deletes messages older than retention (acted-on ones
// older than actedRetention) and purges expired cache rows. A cache purge
// failure is logged and does not fail the pass.
func (j *Jobs) CleanupOlderThan(ctx context.Context, retention, actedRetention time.Duration) (CleanupResult, error) {
	var res CleanupResult
	start := time.Now()
	log.Printf("[Cleanup] Cleanup cycle starting (retention=%s, acted_retention=%s)", retention, actedRetention)

	n, err := j.deps.Deliveries.Cleanup(ctx, retention, actedRetention)
	if err != nil {
		return res, fmt.Errorf("message cleanup: %w", err)
	}
	res.Messages = n
	if n > 0 {
		log.Printf("[Cleanup] Removed %d messages past retention", n)
	}

	if j.deps.Cache != nil {
		purged, err := j.deps.Cache.PurgeExpired(ctx)
		if err != nil {
			log.Printf("[Cleanup] Cache purge error: %v", err)
		} else if purged > 0 {
			res.CacheRows = purged
			log.Printf("[Cleanup] Purged %d expired cache rows", purged)
		}
	}

	log.Printf("[Cleanup] Cleanup cycle completed in %s", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// =============================================================================
// HEALTH: queue depth and stuck-message detection
// =============================================================================

// Health flags messages stuck in scheduled past the grace period.
func (j *Jobs) Health(ctx context.Context) (string, error) {
	h, err := j.deps.Deliveries.CheckHealth(ctx, j.cfg.StuckGrace())
	if err != nil {
		return "", fmt.Errorf("health check: %w", err)
	}
	if h.StuckFlagged > 0 {
		log.Printf("[Health] %d messages stuck in scheduled longer than %s", h.StuckFlagged, j.cfg.StuckGrace())
	}
	return fmt.Sprintf("depth=%d stuck=%d failed_24h=%d", h.ScheduledDepth, h.StuckFlagged, h.FailedLastDay), nil
}

// =============================================================================
// RETRAIN: freshness-gated model training
// =============================================================================

// Retrain runs the pipeline unless the data and models are fresh. A
// rejected candidate is an alert, not a job failure.
func (j *Jobs) Retrain(ctx context.Context) (string, error) {
	report, err := j.deps.Retrainer.Run(ctx, false)
	if err != nil {
		return "", fmt.Errorf("retrain: %w", err)
	}
	parts := make([]string, 0, len(report.Results))
	var failed []string
	for _, r := range report.Results {
		parts = append(parts, fmt.Sprintf("%s=%s", r.Type, r.Outcome))
		switch r.Outcome {
		case training.OutcomeRejected:
			log.Printf("[Retrain] ALERT: %s candidate rejected: %s", r.Type, r.Error)
		case training.OutcomeFailed:
			failed = append(failed, string(r.Type))
		}
	}
	summary := fmt.Sprintf("reason=%s samples=%d %s pruned=%d",
		report.Reason, report.Samples, strings.Join(parts, " "), report.Pruned)
	if len(failed) > 0 {
		return summary, fmt.Errorf("training failed for %s", strings.Join(failed, ","))
	}
	return summary, nil
}

// =============================================================================
// WARM: precompute predictions for active users
// =============================================================================

// Warm precomputes predictions for recently active users, page by page.
func (j *Jobs) Warm(ctx context.Context) (string, error) {
	var total prediction.WarmResult
	err := j.deps.Users.EachActiveUser(ctx, j.now().Add(-j.activeWithin()), j.cfg.BatchSize, func(ids []string) error {
		res, err := j.deps.Warmer.Warm(ctx, ids, j.cfg.Parallelism)
		total.Users += res.Users
		total.Warmed += res.Warmed
		total.Failed += res.Failed
		return err
	})
	summary := fmt.Sprintf("users=%d warmed=%d failed=%d", total.Users, total.Warmed, total.Failed)
	if err != nil && !errors.Is(err, context.Canceled) {
		return summary, fmt.Errorf("cache warm: %w", err)
	}
	return summary, err
}
