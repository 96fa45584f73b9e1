package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/pkg/logger"
)

var log = logger.Component("delivery")

// Options tunes the sweeps.
type Options struct {
	MaxAttempts int           // delivery attempts before a message fails
	ExpireAfter time.Duration // how long a delivered message may sit untouched
	Metrics     *metrics.Metrics
}

// Service runs the delivery-side sweeps.
type Service struct {
	repo      Repository
	rollups   RollupStore
	tracker   *Tracker
	deliverer Deliverer
	opts      Options
	now       func() time.Time
}

// NewService creates a delivery service. rollups may be nil, in which case
// Rollup only computes.
func NewService(repo Repository, rollups RollupStore, tracker *Tracker, deliverer Deliverer, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = 72 * time.Hour
	}
	if deliverer == nil {
		deliverer = LogDeliverer{}
	}
	return &Service{repo: repo, rollups: rollups, tracker: tracker, deliverer: deliverer, opts: opts, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Tracker returns the lifecycle tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

// SweepResult summarises one delivery sweep.
type SweepResult struct {
	Due       int `json:"due"`
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
}

// DeliverDue delivers every scheduled message whose time has arrived, in
// batches of batchSize with up to parallelism deliveries in flight. One
// message's failure never aborts the sweep; only a repository read error
// does.
func (s *Service) DeliverDue(ctx context.Context, batchSize, parallelism int) (SweepResult, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	if parallelism <= 0 {
		parallelism = 1
	}
	var res SweepResult
	var delivered, retrying, failed atomic.Int64

	due, err := s.repo.Due(ctx, s.now(), batchSize)
	if err != nil {
		return res, fmt.Errorf("list due messages: %w", err)
	}
	res.Due = len(due)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i := range due {
		m := &due[i]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic delivering message", "message_id", m.ID, "user_id", m.UserID, "panic", fmt.Sprint(r))
				}
			}()
			switch s.deliverOne(gctx, m) {
			case domain.MessageDelivered:
				delivered.Add(1)
			case domain.MessageFailed:
				failed.Add(1)
			case domain.MessageScheduled:
				retrying.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	res.Delivered = int(delivered.Load())
	res.Retrying = int(retrying.Load())
	res.Failed = int(failed.Load())

	expired, err := s.ExpireUntouched(ctx, batchSize)
	res.Expired = expired
	if err != nil {
		return res, err
	}
	return res, ctx.Err()
}

// deliverOne returns the status the message ended in, or "" when its
// state could not be recorded.
func (s *Service) deliverOne(ctx context.Context, m *domain.CoachingMessage) domain.MessageStatus {
	err := s.deliverer.Deliver(ctx, m)
	if err == nil {
		s.opts.Metrics.DeliveryAttempt("success")
		if err := s.tracker.MarkDelivered(ctx, m); err != nil {
			log.Warn("delivered but status not recorded", "message_id", m.ID, "user_id", m.UserID, "error", err)
			return ""
		}
		return domain.MessageDelivered
	}
	if ctx.Err() != nil {
		return ""
	}

	s.opts.Metrics.DeliveryAttempt("failure")
	failed, rerr := s.tracker.RecordAttempt(ctx, m, err, s.opts.MaxAttempts)
	if rerr != nil {
		log.Warn("delivery attempt not recorded", "message_id", m.ID, "user_id", m.UserID, "error", rerr)
		return ""
	}
	if failed {
		log.Warn("message failed after bounded attempts", "message_id", m.ID, "user_id", m.UserID,
			"attempts", m.DeliveryAttempts, "error", err)
		return domain.MessageFailed
	}
	log.Info("delivery attempt failed, will retry", "message_id", m.ID, "user_id", m.UserID,
		"attempts", m.DeliveryAttempts, "error", err)
	return domain.MessageScheduled
}

// ExpireUntouched expires delivered messages nobody read or acted on
// within ExpireAfter.
func (s *Service) ExpireUntouched(ctx context.Context, limit int) (int, error) {
	stale, err := s.repo.Untouched(ctx, s.now().Add(-s.opts.ExpireAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("list untouched messages: %w", err)
	}
	n := 0
	for i := range stale {
		if err := s.tracker.Expire(ctx, &stale[i]); err != nil {
			if !errors.Is(err, ErrInvalidTransition) {
				log.Warn("expire failed", "message_id", stale[i].ID, "error", err)
			}
			continue
		}
		n++
	}
	return n, nil
}

// CheckHealth flags messages stuck in scheduled for longer than grace and
// returns the queue health.
func (s *Service) CheckHealth(ctx context.Context, grace time.Duration) (domain.QueueHealth, error) {
	now := s.now()
	flagged, err := s.repo.FlagStuck(ctx, now.Add(-grace))
	if err != nil {
		return domain.QueueHealth{}, fmt.Errorf("flag stuck messages: %w", err)
	}
	if flagged > 0 {
		log.Warn("messages stuck in scheduled", "newly_flagged", flagged, "grace", grace.String())
	}
	h, err := s.repo.Health(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return domain.QueueHealth{}, fmt.Errorf("queue health: %w", err)
	}
	h.CheckedAt = now
	s.opts.Metrics.QueueHealth(h.ScheduledDepth, h.StuckFlagged)
	return h, nil
}

// Rollup aggregates the UTC day containing day and stores it.
func (s *Service) Rollup(ctx context.Context, day time.Time) ([]domain.MessageRollup, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.repo.Aggregate(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", start.Format("2006-01-02"), err)
	}
	for i := range rows {
		rows[i].Day = start
	}
	if s.rollups != nil {
		if err := s.rollups.ReplaceDay(ctx, start, rows); err != nil {
			return nil, fmt.Errorf("store rollup: %w", err)
		}
	}
	return rows, nil
}

// Cleanup deletes messages older than retention; acted messages are kept
// for actedRetention.
func (s *Service) Cleanup(ctx context.Context, retention, actedRetention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	if actedRetention < retention {
		actedRetention = retention
	}
	now := s.now()
	n, err := s.repo.DeleteOlderThan(ctx, now.Add(-retention), now.Add(-actedRetention))
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	return n, nil
}

// Recent returns a user's messages generated at or after since.
func (s *Service) Recent(ctx context.Context, userID string, since time.Time) ([]domain.CoachingMessage, error) {
	return s.repo.Recent(ctx, userID, since)
}

// ListForUser returns a user's newest messages.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]domain.CoachingMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListForUser(ctx, userID, limit)
}
