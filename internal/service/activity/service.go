package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/pkg/logger"
)

var log = logger.Component("activity")

// Service implements activity logging and history reads. It is safe for
// concurrent use.
type Service struct {
	repo        Repository
	invalidator Invalidator
	publisher   Publisher
	now         func() time.Time
}

// NewService creates an activity service. invalidator and publisher may be
// nil.
func NewService(repo Repository, invalidator Invalidator, publisher Publisher) *Service {
	return &Service{repo: repo, invalidator: invalidator, publisher: publisher, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Log validates and stores an activity, then invalidates the user's
// cached predictions and publishes an event.
func (s *Service) Log(ctx context.Context, a *domain.Activity) (*domain.Activity, error) {
	a.UserID = strings.TrimSpace(a.UserID)
	a.Kind = strings.TrimSpace(a.Kind)
	if a.UserID == "" || a.Kind == "" {
		return nil, fmt.Errorf("%w: user_id and kind are required", ErrInvalidActivity)
	}
	if a.DurationMin < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidActivity)
	}
	if a.Importance < 0 || a.Importance > 1 {
		return nil, fmt.Errorf("%w: importance must be within [0,1]", ErrInvalidActivity)
	}
	now := s.now()
	if a.OccurredAt.IsZero() {
		a.OccurredAt = now
	}
	if a.OccurredAt.After(now.Add(5 * time.Minute)) {
		return nil, fmt.Errorf("%w: occurred_at is in the future", ErrInvalidActivity)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	if err := s.repo.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateUser(ctx, a.UserID); err != nil {
			log.Warn("cache invalidation failed", "user_id", a.UserID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.ActivityLogged(ctx, a); err != nil {
			log.Warn("publish activity failed", "user_id", a.UserID, "error", err)
		}
	}
	return a, nil
}

// FetchActivities returns a user's history in [start, end).
func (s *Service) FetchActivities(ctx context.Context, userID string, start, end time.Time) ([]domain.Activity, error) {
	return s.repo.Fetch(ctx, userID, start, end)
}

// FetchRange returns all users' history in [start, end).
func (s *Service) FetchRange(ctx context.Context, start, end time.Time) ([]domain.Activity, error) {
	return s.repo.FetchRange(ctx, start, end)
}

// ActiveUsers pages through users active since the given time.
func (s *Service) ActiveUsers(ctx context.Context, since time.Time, afterID string, limit int) ([]string, error) {
	return s.repo.ActiveUsers(ctx, since, afterID, limit)
}

// CountSince counts activities logged since the given time.
func (s *Service) CountSince(ctx context.Context, since time.Time) (int, error) {
	return s.repo.CountSince(ctx, since)
}

// EachActiveUser calls fn with successive pages of users active since the
// given time until the pages run out, fn fails or ctx ends.
func (s *Service) EachActiveUser(ctx context.Context, since time.Time, pageSize int, fn func([]string) error) error {
	if pageSize <= 0 {
		pageSize = 200
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		users, err := s.repo.ActiveUsers(ctx, since, after, pageSize)
		if err != nil {
			return fmt.Errorf("list active users: %w", err)
		}
		if len(users) == 0 {
			return nil
		}
		if err := fn(users); err != nil {
			return err
		}
		if len(users) < pageSize {
			return nil
		}
		after = users[len(users)-1]
	}
}
