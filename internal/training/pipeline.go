package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/models"
	"github.com/ignite/habit-coach/internal/pkg/logger"
	"github.com/ignite/habit-coach/internal/storage"
)

var log = logger.Component("training")

// Run outcomes, also used as metric labels.
const (
	OutcomePublished = "published"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// ModelRepository persists artifact metadata and owns version numbering,
// so pipelines in different processes never reuse a version. A row with
// PublishedAt set and RetiredAt unset is the active version of its type.
type ModelRepository interface {
	// Insert records an unpublished row and assigns a.Version. It returns
	// ErrVersionConflict when a concurrent writer took the same version.
	Insert(ctx context.Context, a *domain.ModelArtifact) error
	// Activate publishes a and retires every other published version of
	// its type.
	Activate(ctx context.Context, a *domain.ModelArtifact, at time.Time) error
	List(ctx context.Context) ([]*domain.ModelArtifact, error)
	Delete(ctx context.Context, id string) error
}

// versionAttempts bounds retries after a version conflict.
const versionAttempts = 3

// Invalidator drops cached predictions computed under a model version.
// *cache.Cache implements it.
type Invalidator interface {
	InvalidateModelVersion(ctx context.Context, version string) (int, error)
}

// Publisher announces newly active versions.
type Publisher interface {
	ModelPublished(ctx context.Context, a *domain.ModelArtifact) error
}

// ActivityCounter reports data freshness.
type ActivityCounter interface {
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// PipelineOptions controls the dataset window and the publish policy.
type PipelineOptions struct {
	WindowDays       int
	HorizonDays      int
	StepDays         int
	MinActivities    int
	Tolerance        float64
	MaxModelAge      time.Duration
	MinNewActivities int
	GracePeriod      time.Duration
	Metrics          *metrics.Metrics
}

// Result is the outcome of one model family in a run.
type Result struct {
	Type     domain.ModelType          `json:"type"`
	Outcome  string                    `json:"outcome"`
	Version  string                    `json:"version,omitempty"`
	Metrics  *domain.EvaluationMetrics `json:"metrics,omitempty"`
	Previous string                    `json:"previous,omitempty"`
	Error    string                    `json:"error,omitempty"`
	Reason   string                    `json:"reason,omitempty"`
	Evicted  int                       `json:"cache_evicted,omitempty"`
}

// Report summarises a run.
type Report struct {
	StartedAt time.Time `json:"started_at"`
	Samples   int       `json:"samples"`
	Reason    string    `json:"reason"`
	Results   []Result  `json:"results"`
	Pruned    int       `json:"pruned"`
}

// Pipeline trains, guards, publishes, restores and prunes model versions.
type Pipeline struct {
	registry *models.Registry
	dataset  Dataset
	trainer  *Trainer
	repo     ModelRepository
	blobs    storage.Store
	cache    Invalidator
	events   Publisher
	counter  ActivityCounter
	opts     PipelineOptions
	now      func() time.Time

	mu     sync.Mutex
	synced string // active set last restored, see Sync
}

// NewPipeline wires a pipeline. cache, events and counter may be nil.
func NewPipeline(reg *models.Registry, dataset Dataset, trainer *Trainer, repo ModelRepository, blobs storage.Store, cache Invalidator, events Publisher, counter ActivityCounter, opts PipelineOptions) *Pipeline {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 90
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 7
	}
	if opts.StepDays <= 0 {
		opts.StepDays = 7
	}
	if opts.Tolerance < 0 {
		opts.Tolerance = 0
	}
	if opts.MaxModelAge <= 0 {
		opts.MaxModelAge = 7 * 24 * time.Hour
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 48 * time.Hour
	}
	return &Pipeline{
		registry: reg,
		dataset:  dataset,
		trainer:  trainer,
		repo:     repo,
		blobs:    blobs,
		cache:    cache,
		events:   events,
		counter:  counter,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// ShouldRetrain reports whether a run would do anything, and why: a
// family with nothing active, an active version older than MaxModelAge, or
// at least MinNewActivities logged since the oldest active version was
// trained.
func (p *Pipeline) ShouldRetrain(ctx context.Context) (bool, string, error) {
	var oldest time.Time
	for _, t := range domain.AllModelTypes() {
		a, err := p.registry.Active(t)
		if err != nil {
			return true, "no_active_model", nil
		}
		if oldest.IsZero() || a.TrainedAt.Before(oldest) {
			oldest = a.TrainedAt
		}
	}
	if p.now().Sub(oldest) >= p.opts.MaxModelAge {
		return true, "stale_model", nil
	}
	if p.counter == nil || p.opts.MinNewActivities <= 0 {
		return false, "fresh", nil
	}
	n, err := p.counter.CountSince(ctx, oldest)
	if err != nil {
		return false, "", fmt.Errorf("counting new activities: %w", err)
	}
	if n >= p.opts.MinNewActivities {
		return true, "new_data", nil
	}
	return false, "fresh", nil
}

// Run retrains every family unless force is false and ShouldRetrain says
// no. Families are independent: a rejected or failed family leaves its
// active version alone and does not stop the others. Superseded versions
// past the grace period are pruned at the end of every run.
func (p *Pipeline) Run(ctx context.Context, force bool) (*Report, error) {
	report := &Report{StartedAt: p.now(), Reason: "forced"}

	if !force {
		ok, reason, err := p.ShouldRetrain(ctx)
		if err != nil {
			return nil, err
		}
		report.Reason = reason
		if !ok {
			for _, t := range domain.AllModelTypes() {
				report.Results = append(report.Results, Result{Type: t, Outcome: OutcomeSkipped, Reason: reason})
				p.opts.Metrics.TrainingRun(string(t), OutcomeSkipped)
			}
			report.Pruned = p.prune(ctx)
			return report, nil
		}
	}

	end := report.StartedAt.UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -p.opts.WindowDays)
	acts, err := p.dataset.Load(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading training dataset: %w", err)
	}
	samples := BuildSamples(acts, start, end, features.AggregateOptions{
		WindowDays:    p.sampleWindow(),
		HorizonDays:   p.opts.HorizonDays,
		StepDays:      p.opts.StepDays,
		MinActivities: p.opts.MinActivities,
	})
	report.Samples = len(samples)
	log.Info("training run started", "reason", report.Reason, "activities", len(acts), "samples", len(samples))

	for _, t := range domain.AllModelTypes() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r := p.trainOne(ctx, t, samples, start, end)
		p.opts.Metrics.TrainingRun(string(t), r.Outcome)
		report.Results = append(report.Results, r)
	}
	report.Pruned = p.prune(ctx)
	return report, nil
}

// sampleWindow is the feature window each sample sees; it leaves room in
// the dataset window for several cuts.
func (p *Pipeline) sampleWindow() int {
	w := p.opts.WindowDays / 3
	if w < 14 {
		w = 14
	}
	return w
}

func (p *Pipeline) trainOne(ctx context.Context, t domain.ModelType, samples []features.Sample, start, end time.Time) Result {
	r := Result{Type: t}
	cand, err := p.trainer.Train(t, samples)
	if err != nil {
		log.Error("training failed", "model_type", string(t), "error", err)
		r.Outcome, r.Error = OutcomeFailed, err.Error()
		return r
	}
	r.Metrics = &cand.Metrics

	if err := p.guard(cand); err != nil {
		var re *RegressionError
		if errors.As(err, &re) {
			log.Warn("training regression, keeping active version", "model_type", string(t),
				"metric", re.Metric, "candidate", re.Candidate, "active", re.Active, "tolerance", re.Tolerance)
		}
		r.Outcome, r.Error = OutcomeRejected, err.Error()
		return r
	}

	art, prev, evicted, err := p.publish(ctx, cand, start, end)
	if err != nil {
		log.Error("publish failed", "model_type", string(t), "error", err)
		r.Outcome, r.Error = OutcomeFailed, err.Error()
		return r
	}
	r.Outcome, r.Version, r.Evicted = OutcomePublished, art.VersionTag(), evicted
	if prev != nil {
		r.Previous = prev.VersionTag()
	}
	return r
}

// guard rejects a candidate whose held-out score trails the active
// version's by more than the tolerance.
func (p *Pipeline) guard(c *Candidate) error {
	active, err := p.registry.Active(c.Type)
	if err != nil {
		return nil
	}
	if active.Metrics.PrimaryName != c.Metrics.PrimaryName {
		return nil
	}
	if c.Metrics.Primary < active.Metrics.Primary-p.opts.Tolerance {
		return &RegressionError{
			Type:      c.Type,
			Metric:    c.Metrics.PrimaryName,
			Candidate: c.Metrics.Primary,
			Active:    active.Metrics.Primary,
			Tolerance: p.opts.Tolerance,
		}
	}
	return nil
}

// BlobKey is where an artifact lives in the artifact store. The key is
// derived from the artifact ID, so no two writers ever share one.
func BlobKey(t domain.ModelType, id string) string {
	return fmt.Sprintf("%s/%s.json", t, id)
}

// publish records the row (which assigns the version), writes the blob,
// then publishes the row and swaps the active pointer. A failure before
// the swap removes only what this run wrote and leaves the old version
// serving.
func (p *Pipeline) publish(ctx context.Context, c *Candidate, start, end time.Time) (*domain.ModelArtifact, *domain.ModelArtifact, int, error) {
	now := p.now()
	id := uuid.New().String()
	art := &domain.ModelArtifact{
		ID:          id,
		Type:        c.Type,
		TrainedAt:   now,
		WindowStart: start,
		WindowEnd:   end,
		Params:      c.Params,
		Metrics:     c.Metrics,
		BlobKey:     BlobKey(c.Type, id),
	}
	if err := p.record(ctx, art); err != nil {
		return nil, nil, 0, fmt.Errorf("recording artifact: %w", err)
	}

	blob, err := json.Marshal(art)
	if err != nil {
		p.discard(ctx, art, false)
		return nil, nil, 0, fmt.Errorf("encoding artifact: %w", err)
	}
	if err := p.blobs.Put(ctx, art.BlobKey, blob); err != nil {
		p.discard(ctx, art, false)
		return nil, nil, 0, fmt.Errorf("storing artifact blob: %w", err)
	}
	if err := p.repo.Activate(ctx, art, now); err != nil {
		p.discard(ctx, art, true)
		return nil, nil, 0, fmt.Errorf("activating artifact: %w", err)
	}
	art.PublishedAt = &now

	prev, err := p.registry.Publish(art)
	if err != nil {
		return nil, nil, 0, err
	}
	p.opts.Metrics.ModelVersion(string(art.Type), art.Version)
	log.Info("model published", "model_type", string(art.Type), "version", art.VersionTag(),
		"metric", art.Metrics.PrimaryName, "score", art.Metrics.Primary)

	var evicted int
	if prev != nil && p.cache != nil {
		n, err := p.cache.InvalidateModelVersion(ctx, prev.VersionTag())
		if err != nil {
			log.Warn("cache invalidation incomplete", "version", prev.VersionTag(), "error", err)
		}
		evicted = n
	}
	if p.events != nil {
		if err := p.events.ModelPublished(ctx, art); err != nil {
			log.Warn("model published event failed", "version", art.VersionTag(), "error", err)
		}
	}
	return art, prev, evicted, nil
}

func (p *Pipeline) record(ctx context.Context, art *domain.ModelArtifact) error {
	var err error
	for attempt := 0; attempt < versionAttempts; attempt++ {
		if err = p.repo.Insert(ctx, art); !errors.Is(err, ErrVersionConflict) {
			return err
		}
		log.Warn("model version taken, retrying", "model_type", string(art.Type), "attempt", attempt+1)
	}
	return err
}

// discard removes the row and, when written, the blob of a version this
// run could not publish. Both are keyed by the artifact's own ID.
func (p *Pipeline) discard(ctx context.Context, art *domain.ModelArtifact, blobWritten bool) {
	if blobWritten {
		if err := p.blobs.Delete(ctx, art.BlobKey); err != nil {
			log.Warn("orphaned artifact blob", "key", art.BlobKey, "error", err)
		}
	}
	if err := p.repo.Delete(ctx, art.ID); err != nil {
		log.Warn("orphaned model row", "version", art.VersionTag(), "error", err)
	}
}

// Restore loads every recorded version from the artifact store and
// reactivates the latest published, unretired version of each family.
// Versions whose blob is missing or malformed are skipped.
func (p *Pipeline) Restore(ctx context.Context) (int, error) {
	rows, err := p.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing model versions: %w", err)
	}

	p.mu.Lock()
	p.synced = activeSignature(rows)
	p.mu.Unlock()

	active := make(map[domain.ModelType]int64)
	var loaded int
	for _, row := range rows {
		if row.PublishedAt == nil {
			// recorded by a run that has not published (or never will)
			continue
		}
		art, err := p.fetch(ctx, row)
		if err != nil {
			log.Warn("skipping model version", "version", row.VersionTag(), "error", err)
			continue
		}
		if err := p.registry.Load(art); err != nil {
			log.Warn("skipping model version", "version", row.VersionTag(), "error", err)
			continue
		}
		loaded++
		if art.RetiredAt == nil && art.Version > active[art.Type] {
			active[art.Type] = art.Version
		}
	}

	for _, t := range domain.AllModelTypes() {
		v, ok := active[t]
		if !ok {
			log.Warn("no active model version, serving rules", "model_type", string(t))
			continue
		}
		if _, err := p.registry.Activate(t, v); err != nil {
			return loaded, err
		}
		p.opts.Metrics.ModelVersion(string(t), v)
		log.Info("model version restored", "version", domain.VersionTag(t, v))
	}
	return loaded, nil
}

// Sync restores the registry when the recorded active versions differ from
// the set the last Restore saw. It lets a process without the event bus
// pick up versions published elsewhere; an unchanged set costs one List.
func (p *Pipeline) Sync(ctx context.Context) (bool, error) {
	rows, err := p.repo.List(ctx)
	if err != nil {
		return false, fmt.Errorf("listing model versions: %w", err)
	}
	sig := activeSignature(rows)
	p.mu.Lock()
	same := sig == p.synced
	p.mu.Unlock()
	if same {
		return false, nil
	}
	log.Info("recorded model versions changed, restoring", "active", sig)
	if _, err := p.Restore(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// activeSignature names the active version of every family in a fixed
// order, e.g. "habit_formation@v3,streak_risk@v0,optimal_timing@v2".
func activeSignature(rows []*domain.ModelArtifact) string {
	active := make(map[domain.ModelType]int64)
	for _, row := range rows {
		if row.PublishedAt == nil || row.RetiredAt != nil {
			continue
		}
		if row.Version > active[row.Type] {
			active[row.Type] = row.Version
		}
	}
	tags := make([]string, 0, len(domain.AllModelTypes()))
	for _, t := range domain.AllModelTypes() {
		tags = append(tags, domain.VersionTag(t, active[t]))
	}
	return strings.Join(tags, ",")
}

// fetch reads a version's blob and takes lifecycle fields from the row.
func (p *Pipeline) fetch(ctx context.Context, row *domain.ModelArtifact) (*domain.ModelArtifact, error) {
	key := row.BlobKey
	if key == "" {
		return nil, fmt.Errorf("%w: %s has no blob key", models.ErrInvalidArtifact, row.VersionTag())
	}
	blob, err := p.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var art domain.ModelArtifact
	if err := json.Unmarshal(blob, &art); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidArtifact, err)
	}
	if art.Type != row.Type || art.Version != row.Version {
		return nil, fmt.Errorf("%w: blob %s holds %s", models.ErrInvalidArtifact, key, art.VersionTag())
	}
	if err := validate(&art); err != nil {
		return nil, err
	}
	art.ID = row.ID
	art.BlobKey = key
	art.PublishedAt = row.PublishedAt
	art.RetiredAt = row.RetiredAt
	return &art, nil
}

func validate(a *domain.ModelArtifact) error {
	var err error
	switch a.Type {
	case domain.ModelHabitFormation:
		_, err = models.LogisticFromParams(a.Params, len(features.Names))
	case domain.ModelStreakRisk:
		_, err = models.RiskFromParams(a.Params)
	case domain.ModelOptimalTiming:
		_, err = models.TimingFromParams(a.Params)
	default:
		err = fmt.Errorf("%w: unknown type %q", models.ErrInvalidArtifact, a.Type)
	}
	return err
}

// Prune removes superseded versions retired longer than the grace period
// from the registry, the artifact store and the registry table.
func (p *Pipeline) Prune(ctx context.Context) int {
	return p.prune(ctx)
}

func (p *Pipeline) prune(ctx context.Context) int {
	cutoff := p.now().Add(-p.opts.GracePeriod)
	var n int
	for _, t := range domain.AllModelTypes() {
		for _, a := range p.registry.Prune(t, cutoff) {
			if a.BlobKey != "" {
				if err := p.blobs.Delete(ctx, a.BlobKey); err != nil {
					log.Warn("failed to delete artifact blob", "version", a.VersionTag(), "error", err)
				}
			}
			if err := p.repo.Delete(ctx, a.ID); err != nil {
				log.Warn("failed to delete model row", "version", a.VersionTag(), "error", err)
			}
			log.Info("model version pruned", "version", a.VersionTag())
			n++
		}
	}
	return n
}
