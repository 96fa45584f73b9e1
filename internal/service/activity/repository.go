package activity

import (
	"context"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Repository defines the data access contract for the activity history.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Insert stores one activity. Re-inserting the same ID is a no-op.
	Insert(ctx context.Context, a *domain.Activity) error

	// Fetch returns a user's activities in [start, end), ordered by
	// occurred_at then id.
	Fetch(ctx context.Context, userID string, start, end time.Time) ([]domain.Activity, error)

	// FetchRange returns every user's activities in [start, end), ordered by
	// user, occurred_at and id. Used to assemble training data.
	FetchRange(ctx context.Context, start, end time.Time) ([]domain.Activity, error)

	// ActiveUsers returns up to limit user IDs with an activity at or after
	// since, ordered by ID and strictly greater than afterID.
	ActiveUsers(ctx context.Context, since time.Time, afterID string, limit int) ([]string, error)

	// CountSince counts activities logged at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Invalidator drops a user's cached predictions. *cache.Cache implements it.
type Invalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// Publisher announces logged activities. *events.Bus implements it.
type Publisher interface {
	ActivityLogged(ctx context.Context, a *domain.Activity) error
}
