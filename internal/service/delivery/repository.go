package delivery

import (
	"context"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Repository defines the data access contract for coaching messages.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new message.
	Create(ctx context.Context, m *domain.CoachingMessage) error

	// Get returns one message or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.CoachingMessage, error)

	// Save persists the mutable lifecycle fields of m, but only if the
	// stored status is still from. A mismatch returns ErrInvalidTransition;
	// a missing row returns ErrNotFound.
	Save(ctx context.Context, m *domain.CoachingMessage, from domain.MessageStatus) error

	// Recent returns a user's messages generated at or after since, newest
	// first.
	Recent(ctx context.Context, userID string, since time.Time) ([]domain.CoachingMessage, error)

	// ListForUser returns a user's newest messages.
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.CoachingMessage, error)

	// Due returns scheduled messages whose scheduled_for is at or before
	// now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.CoachingMessage, error)

	// Untouched returns delivered messages last updated before cutoff.
	Untouched(ctx context.Context, cutoff time.Time, limit int) ([]domain.CoachingMessage, error)

	// FlagStuck marks scheduled messages whose scheduled_for is before
	// cutoff and returns how many were newly flagged.
	FlagStuck(ctx context.Context, cutoff time.Time) (int, error)

	// Health counts queue depth, flagged messages and failures since.
	Health(ctx context.Context, failedSince time.Time) (domain.QueueHealth, error)

	// Aggregate counts messages generated in [start, end) by category,
	// template, bucket and current status.
	Aggregate(ctx context.Context, start, end time.Time) ([]domain.MessageRollup, error)

	// DeleteOlderThan removes messages generated before cutoff, except
	// acted messages, which are kept until actedCutoff.
	DeleteOlderThan(ctx context.Context, cutoff, actedCutoff time.Time) (int, error)
}

// RollupStore persists daily rollup rows. Writing the same day twice
// replaces it.
type RollupStore interface {
	ReplaceDay(ctx context.Context, day time.Time, rows []domain.MessageRollup) error
}

// Deliverer hands a message to the notification transport.
type Deliverer interface {
	Deliver(ctx context.Context, m *domain.CoachingMessage) error
}
