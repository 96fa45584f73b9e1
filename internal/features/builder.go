package features

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// ActivitySource is the activity/value history store.
type ActivitySource interface {
	// FetchActivities returns the user's activities in [start, end) ordered
	// by occurrence time.
	FetchActivities(ctx context.Context, userID string, start, end time.Time) ([]domain.Activity, error)
}

// Builder fetches a user's activity window and computes the snapshot.
type Builder struct {
	source        ActivitySource
	lookback      time.Duration
	minActivities int
	now           func() time.Time
}

// NewBuilder creates a Builder. lookbackDays and minActivities fall back to
// 60 and 3 when not positive.
func NewBuilder(source ActivitySource, lookbackDays, minActivities int) *Builder {
	if lookbackDays <= 0 {
		lookbackDays = 60
	}
	if minActivities <= 0 {
		minActivities = 3
	}
	return &Builder{
		source:        source,
		lookback:      time.Duration(lookbackDays) * 24 * time.Hour,
		minActivities: minActivities,
		now:           time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// MinActivities is the threshold below which Build fails.
func (b *Builder) MinActivities() int { return b.minActivities }

// Build returns the snapshot for the lookback window ending now, or an
// *InsufficientDataError. The activity count it saw is returned either way
// so callers can size a fallback.
func (b *Builder) Build(ctx context.Context, userID string, loc *time.Location) (*domain.BehavioralSnapshot, int, error) {
	end := b.now().UTC().Truncate(time.Minute)
	return b.BuildWindow(ctx, userID, end.Add(-b.lookback), end, loc)
}

// BuildWindow is Build over an explicit window.
func (b *Builder) BuildWindow(ctx context.Context, userID string, start, end time.Time, loc *time.Location) (*domain.BehavioralSnapshot, int, error) {
	acts, err := b.source.FetchActivities(ctx, userID, start, end)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch activities: %w", err)
	}
	snap, err := Compute(userID, acts, start, end, loc, b.minActivities)
	if err != nil {
		return nil, len(acts), err
	}
	return snap, len(acts), nil
}
