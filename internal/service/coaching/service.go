package coaching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/habit-coach/internal/decision"
	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/pkg/distlock"
	"github.com/ignite/habit-coach/internal/pkg/logger"
	"github.com/ignite/habit-coach/internal/templates"
)

var log = logger.Component("coaching")

// Predictions is the cache-first read path. *prediction.Service
// implements it.
type Predictions interface {
	GetPredictions(ctx context.Context, userID string, types []domain.PredictionType) (domain.PredictionSet, error)
}

// Snapshots builds the current behavioral snapshot. *features.Builder
// implements it.
type Snapshots interface {
	Build(ctx context.Context, userID string, loc *time.Location) (*domain.BehavioralSnapshot, int, error)
}

// Profiles resolves personalization profiles. *profile.Service implements
// it.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*domain.UserPersonalizationProfile, error)
}

// Messages reads recent messages and records new ones. *delivery.Service
// and *delivery.Tracker together implement it; see NewMessages.
type Messages interface {
	Recent(ctx context.Context, userID string, since time.Time) ([]domain.CoachingMessage, error)
	Record(ctx context.Context, m *domain.CoachingMessage) error
}

// Composer picks and renders a template. *templates.Selector implements it.
type Composer interface {
	Compose(ctx context.Context, req templates.Request, vars templates.Personalization) (*templates.Rendered, error)
}

// Users pages through active users. *activity.Service implements it.
type Users interface {
	EachActiveUser(ctx context.Context, since time.Time, pageSize int, fn func([]string) error) error
}

// Skip reasons on an Outcome that fired but produced no message.
const (
	SkipNoTemplate = "no_template"
)

// Outcome is the result of one generation cycle.
type Outcome struct {
	UserID   string                  `json:"user_id"`
	Decision decision.Decision       `json:"decision"`
	Message  *domain.CoachingMessage `json:"message,omitempty"`
	Skipped  string                  `json:"skipped,omitempty"`
}

// Options tunes the service.
type Options struct {
	LockTTL time.Duration
	Metrics *metrics.Metrics
}

// Service generates coaching messages.
type Service struct {
	predictions Predictions
	snapshots   Snapshots
	profiles    Profiles
	messages    Messages
	composer    Composer
	engine      *decision.Engine
	locks       distlock.Factory
	opts        Options
	now         func() time.Time
}

// NewService wires the generation path. locks may be nil for a
// single-process deployment.
func NewService(p Predictions, s Snapshots, profiles Profiles, messages Messages, composer Composer, engine *decision.Engine, locks distlock.Factory, opts Options) *Service {
	if locks == nil {
		locks = distlock.MemoryFactory()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Service{
		predictions: p,
		snapshots:   s,
		profiles:    profiles,
		messages:    messages,
		composer:    composer,
		engine:      engine,
		locks:       locks,
		opts:        opts,
		now:         time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GenerateForUser evaluates one user and records at most one message.
// A fired decision with no matching template is logged and skipped.
func (s *Service) GenerateForUser(ctx context.Context, userID string) (*Outcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	lock := s.locks("generate:"+userID, s.opts.LockTTL)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire generation lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release generation lock failed", "user_id", userID, "error", err)
		}
	}()

	in, err := s.input(ctx, userID)
	if err != nil {
		return nil, err
	}
	d := s.engine.Evaluate(*in)
	s.opts.Metrics.Decision(string(d.State), d.Reason)

	out := &Outcome{UserID: userID, Decision: d}
	if d.State != decision.StateFired {
		return out, nil
	}

	vars := templates.BuildPersonalization(in.Profile, in.Snapshot, in.Predictions, d.Category)
	rendered, err := s.composer.Compose(ctx, request(in, d, vars), vars)
	if errors.Is(err, templates.ErrNoTemplateAvailable) {
		log.Warn("no template for fired decision, cycle skipped", "user_id", userID,
			"category", string(d.Category), "tone", string(d.Tone), "error", err)
		out.Skipped = SkipNoTemplate
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}

	m := &domain.CoachingMessage{
		UserID:          userID,
		Category:        d.Category,
		Tone:            d.Tone,
		Priority:        d.Priority,
		GeneratedAt:     in.Now,
		ScheduledFor:    d.ScheduledFor,
		TemplateID:      rendered.Template.ID,
		ABBucket:        rendered.ABBucket,
		Title:           rendered.Title,
		Body:            rendered.Body,
		Personalization: vars.Map(),
		Trigger:         d.Trigger,
		PredictionRefs:  d.Refs,
	}
	if err := s.messages.Record(ctx, m); err != nil {
		return nil, fmt.Errorf("record message: %w", err)
	}
	log.Info("coaching message scheduled", "user_id", userID, "message_id", m.ID,
		"category", string(m.Category), "template_id", m.TemplateID, "scheduled_for", m.ScheduledFor)
	out.Message = m
	return out, nil
}

func (s *Service) input(ctx context.Context, userID string) (*decision.Input, error) {
	now := s.now()
	preds, err := s.predictions.GetPredictions(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("predictions: %w", err)
	}
	profile, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	snap, _, err := s.snapshots.Build(ctx, userID, profile.Location())
	if err != nil && !errors.Is(err, features.ErrInsufficientData) {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	recent, err := s.messages.Recent(ctx, userID, now.Add(-s.engine.Config().LongestCooldown()))
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return &decision.Input{
		UserID:      userID,
		Now:         now,
		Predictions: preds,
		Snapshot:    snap,
		Profile:     profile,
		Recent:      recent,
	}, nil
}

func request(in *decision.Input, d decision.Decision, vars templates.Personalization) templates.Request {
	req := templates.Request{
		UserID:    in.UserID,
		Category:  d.Category,
		Tone:      d.Tone,
		Archetype: vars.Archetype,
		Locale:    in.Profile.Locale,
		Streak:    vars.Streak,
	}
	if r := in.Predictions.Get(domain.PredictionStreakRisk); r != nil {
		req.RiskLevel = r.Payload.RiskLevel
	}
	return req
}

// SweepOptions bounds a generation sweep.
type SweepOptions struct {
	ActiveWithin time.Duration
	BatchSize    int
	Parallelism  int
}

// SweepResult summarises a generation sweep.
type SweepResult struct {
	Users      int `json:"users"`
	Fired      int `json:"fired"`
	Suppressed int `json:"suppressed"`
	Idle       int `json:"idle"`
	Skipped    int `json:"skipped"`
	Busy       int `json:"busy"`
	Errors     int `json:"errors"`
}

type sweepCounters struct {
	users, fired, suppressed, idle, skipped, busy, errors atomic.Int64
}

// Sweep runs GenerateForUser for every recently active user, batch by
// batch. A user's error or panic is logged and counted; only listing
// failures or cancellation end the sweep early.
func (s *Service) Sweep(ctx context.Context, users Users, opts SweepOptions) (SweepResult, error) {
	if opts.ActiveWithin <= 0 {
		opts.ActiveWithin = 30 * 24 * time.Hour
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	var c sweepCounters
	err := users.EachActiveUser(ctx, s.now().Add(-opts.ActiveWithin), opts.BatchSize, func(batch []string) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallelism)
		for _, id := range batch {
			id := id
			c.users.Add(1)
			g.Go(func() error {
				s.sweepOne(gctx, id, &c)
				return nil
			})
		}
		g.Wait()
		return ctx.Err()
	})
	res := SweepResult{
		Users:      int(c.users.Load()),
		Fired:      int(c.fired.Load()),
		Suppressed: int(c.suppressed.Load()),
		Idle:       int(c.idle.Load()),
		Skipped:    int(c.skipped.Load()),
		Busy:       int(c.busy.Load()),
		Errors:     int(c.errors.Load()),
	}
	return res, err
}

func (s *Service) sweepOne(ctx context.Context, userID string, c *sweepCounters) {
	defer func() {
		if r := recover(); r != nil {
			c.errors.Add(1)
			log.Error("panic during generation", "user_id", userID, "panic", fmt.Sprint(r))
		}
	}()
	out, err := s.GenerateForUser(ctx, userID)
	switch {
	case errors.Is(err, ErrBusy):
		c.busy.Add(1)
		return
	case err != nil:
		c.errors.Add(1)
		log.Warn("generation failed", "user_id", userID, "error", err)
		return
	}
	switch {
	case out.Skipped != "":
		c.skipped.Add(1)
	case out.Decision.State == decision.StateFired:
		c.fired.Add(1)
	case out.Decision.State == decision.StateSuppressed:
		c.suppressed.Add(1)
	default:
		c.idle.Add(1)
	}
}
