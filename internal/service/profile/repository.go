package profile

import (
	"context"

	"github.com/ignite/habit-coach/internal/domain"
)

// Repository defines the data access contract for profiles.
type Repository interface {
	// Get returns ErrNotFound when the user has no stored profile.
	Get(ctx context.Context, userID string) (*domain.UserPersonalizationProfile, error)

	// Upsert inserts or replaces a profile, keeping the original created_at.
	Upsert(ctx context.Context, p *domain.UserPersonalizationProfile) error
}
