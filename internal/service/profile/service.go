package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Service reads and validates personalization profiles.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a profile service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Profile returns the user's profile, or the default profile when none is
// stored.
func (s *Service) Profile(ctx context.Context, userID string) (*domain.UserPersonalizationProfile, error) {
	p, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return domain.DefaultProfile(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// Update validates and stores p.
func (s *Service) Update(ctx context.Context, p *domain.UserPersonalizationProfile) error {
	if err := Validate(p); err != nil {
		return err
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.repo.Upsert(ctx, p)
}

// Validate checks a profile before it is stored.
func Validate(p *domain.UserPersonalizationProfile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidProfile)
	}
	switch p.Frequency {
	case domain.FrequencyMinimal, domain.FrequencyModerate, domain.FrequencyDaily, domain.FrequencyHigh:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidProfile, p.Frequency)
	}
	switch p.TonePreference {
	case "", domain.ToneEncouraging, domain.ToneDirect, domain.ToneCelebratory, domain.ToneGentle:
	default:
		return fmt.Errorf("%w: unknown tone %q", ErrInvalidProfile, p.TonePreference)
	}
	ranges := append([]domain.HourRange{p.QuietHours}, p.PreferredWindows...)
	for _, r := range ranges {
		if r.Start < 0 || r.Start > 23 || r.End < 0 || r.End > 23 {
			return fmt.Errorf("%w: hours must be within 0-23", ErrInvalidProfile)
		}
	}
	for c, w := range p.CategoryWeights {
		if c.Priority() == 0 {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidProfile, c)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: weight for %s must be within [0,1]", ErrInvalidProfile, c)
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", ErrInvalidProfile, p.Timezone)
		}
	}
	return nil
}
