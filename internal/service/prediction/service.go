package prediction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ignite/habit-coach/internal/cache"
	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/models"
	"github.com/ignite/habit-coach/internal/pkg/logger"
	"github.com/ignite/habit-coach/internal/segmentation"
)

var log = logger.Component("prediction")

// Profiles resolves a user's personalization profile. *profile.Service
// implements it.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*domain.UserPersonalizationProfile, error)
}

// Options tunes the service.
type Options struct {
	Deadline      time.Duration // per-user computation bound
	NewAccountAge time.Duration // accounts younger than this get new-user defaults
	Metrics       *metrics.Metrics
}

// Service answers prediction requests.
type Service struct {
	builder  *features.Builder
	engine   *models.Engine
	segments *segmentation.Engine
	cache    *cache.Cache
	profiles Profiles
	opts     Options
	group    singleflight.Group
	now      func() time.Time
}

// NewService wires the prediction read path.
func NewService(builder *features.Builder, engine *models.Engine, segments *segmentation.Engine, c *cache.Cache, profiles Profiles, opts Options) *Service {
	if opts.Deadline <= 0 {
		opts.Deadline = 2 * time.Second
	}
	if opts.NewAccountAge <= 0 {
		opts.NewAccountAge = 7 * 24 * time.Hour
	}
	return &Service{
		builder:  builder,
		engine:   engine,
		segments: segments,
		cache:    c,
		profiles: profiles,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ParseTypes parses a comma-separated type list. An empty string means
// every type.
func ParseTypes(raw string) ([]domain.PredictionType, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.AllPredictionTypes(), nil
	}
	var out []domain.PredictionType
	for _, part := range strings.Split(raw, ",") {
		out = append(out, domain.PredictionType(strings.TrimSpace(part)))
	}
	return normalize(out)
}

func normalize(types []domain.PredictionType) ([]domain.PredictionType, error) {
	if len(types) == 0 {
		return domain.AllPredictionTypes(), nil
	}
	seen := make(map[domain.PredictionType]bool, len(types))
	out := make([]domain.PredictionType, 0, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// GetPredictions returns one result per requested type. An empty types
// list means every type.
func (s *Service) GetPredictions(ctx context.Context, userID string, types []domain.PredictionType) (domain.PredictionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	types, err := normalize(types)
	if err != nil {
		return nil, err
	}

	found, missing := s.cache.GetMany(ctx, userID, types)
	if len(missing) == 0 {
		return found, nil
	}

	v, err, _ := s.group.Do(userID, func() (interface{}, error) {
		return s.computeAll(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	computed := v.(domain.PredictionSet)
	for _, t := range missing {
		found[t] = computed[t]
	}
	return found, nil
}

// computeAll computes every type under the per-user deadline and caches
// the results, unless the user was invalidated while computing.
func (s *Service) computeAll(ctx context.Context, userID string) (domain.PredictionSet, error) {
	start := time.Now()
	defer func() { s.opts.Metrics.ObservePrediction(time.Since(start)) }()
	gen := s.cache.Generation(userID)

	dctx, cancel := context.WithTimeout(ctx, s.opts.Deadline)
	defer cancel()

	type outcome struct {
		set domain.PredictionSet
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		set, err := s.compute(dctx, userID)
		ch <- outcome{set, err}
	}()

	select {
	case o := <-ch:
		if o.err == nil {
			for _, r := range o.set {
				// Cache failures were already logged and counted.
				if kept, _ := s.cache.SetIfCurrent(ctx, r, gen); !kept {
					log.Debug("result not cached, user invalidated during compute", "user_id", userID, "type", string(r.Type))
				}
			}
			return o.set, nil
		}
		if dctx.Err() == nil || ctx.Err() != nil {
			return nil, o.err
		}
	case <-dctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	log.Warn("prediction deadline exceeded, using fallback", "user_id", userID, "deadline", s.opts.Deadline.String())
	s.opts.Metrics.Fallback(models.ReasonTimeout)
	return s.fallbackSet(models.FallbackInput{UserID: userID, Reason: models.ReasonTimeout}), nil
}

func (s *Service) compute(ctx context.Context, userID string) (domain.PredictionSet, error) {
	profile, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	snap, n, err := s.builder.Build(ctx, userID, profile.Location())
	if errors.Is(err, features.ErrInsufficientData) {
		in := models.FallbackInput{
			UserID:        userID,
			Activities:    n,
			AccountAge:    s.accountAge(profile),
			NewAccountAge: s.opts.NewAccountAge,
		}
		set := s.fallbackSet(in)
		s.opts.Metrics.Fallback(set[domain.PredictionSegment].FallbackReason)
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	now := s.now()
	set := make(domain.PredictionSet, len(domain.AllPredictionTypes()))
	for _, t := range domain.AllPredictionTypes() {
		var r *domain.PredictionResult
		if t == domain.PredictionSegment {
			r = s.segments.Predict(snap, now)
		} else {
			r, err = s.engine.Predict(t, snap, now)
			if err != nil {
				return nil, err
			}
		}
		set[t] = r
		s.opts.Metrics.Prediction(string(t), source(r))
	}
	return set, nil
}

func (s *Service) fallbackSet(in models.FallbackInput) domain.PredictionSet {
	now := s.now()
	set := make(domain.PredictionSet, len(domain.AllPredictionTypes()))
	for _, t := range domain.AllPredictionTypes() {
		set[t] = models.Fallback(t, in, now)
		s.opts.Metrics.Prediction(string(t), "heuristic")
	}
	return set
}

// accountAge treats an unknown creation time as an established account;
// users with zero activities still land in the new-user tier.
func (s *Service) accountAge(p *domain.UserPersonalizationProfile) time.Duration {
	if p.CreatedAt.IsZero() {
		return s.opts.NewAccountAge
	}
	return s.now().Sub(p.CreatedAt)
}

func source(r *domain.PredictionResult) string {
	switch r.ModelVersion {
	case domain.HeuristicVersion:
		return "heuristic"
	case domain.RulesVersion:
		return "rules"
	}
	return "model"
}

// WarmResult summarizes a warming pass.
type WarmResult struct {
	Users  int `json:"users"`
	Warmed int `json:"warmed"`
	Failed int `json:"failed"`
}

// Warm precomputes every prediction type for the given users with bounded
// parallelism. Failures are logged and counted, never returned; only a
// cancelled context stops the pass early.
func (s *Service) Warm(ctx context.Context, userIDs []string, parallelism int) (WarmResult, error) {
	if parallelism <= 0 {
		parallelism = 4
	}
	var warmed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := s.GetPredictions(gctx, id, nil); err != nil {
				failed.Add(1)
				log.Warn("cache warm failed", "user_id", id, "error", err)
				return nil
			}
			warmed.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	res := WarmResult{Users: len(ids), Warmed: int(warmed.Load()), Failed: int(failed.Load())}
	return res, ctx.Err()
}
