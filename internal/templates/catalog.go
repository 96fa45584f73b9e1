package templates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// CatalogStore is the template table as the admin surface sees it.
type CatalogStore interface {
	Store
	Get(ctx context.Context, id string) (*domain.CoachingMessageTemplate, error)
	List(ctx context.Context) ([]domain.CoachingMessageTemplate, error)
	Upsert(ctx context.Context, t *domain.CoachingMessageTemplate) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
}

// Catalog validates and stores authored templates. Every operation is
// idempotent: seeding the same set twice leaves the table unchanged apart
// from updated_at.
type Catalog struct {
	store    CatalogStore
	renderer *Renderer
	now      func() time.Time
}

// NewCatalog creates a catalog that validates with r.
func NewCatalog(store CatalogStore, r *Renderer) *Catalog {
	return &Catalog{store: store, renderer: r, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// Seed validates every template first and writes none if any is invalid.
func (c *Catalog) Seed(ctx context.Context, tpls []domain.CoachingMessageTemplate) (int, error) {
	for i := range tpls {
		if err := c.Validate(&tpls[i]); err != nil {
			return 0, err
		}
	}
	now := c.now()
	for i := range tpls {
		t := &tpls[i]
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		if err := c.store.Upsert(ctx, t); err != nil {
			return i, fmt.Errorf("upsert template %s: %w", t.ID, err)
		}
	}
	return len(tpls), nil
}

// Validate checks required fields and that both liquid sources parse.
func (c *Catalog) Validate(t *domain.CoachingMessageTemplate) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTemplate)
	}
	switch t.Category {
	case domain.CategoryStreakRisk, domain.CategoryMilestone, domain.CategoryReengagement, domain.CategoryHabitBoost:
	default:
		return fmt.Errorf("%w: %s: unknown category %q", ErrInvalidTemplate, t.ID, t.Category)
	}
	switch t.Tone {
	case domain.ToneEncouraging, domain.ToneDirect, domain.ToneCelebratory, domain.ToneGentle:
	default:
		return fmt.Errorf("%w: %s: unknown tone %q", ErrInvalidTemplate, t.ID, t.Tone)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: %s: body is required", ErrInvalidTemplate, t.ID)
	}
	if t.Weight < 0 {
		return fmt.Errorf("%w: %s: negative weight", ErrInvalidTemplate, t.ID)
	}
	if t.Targeting.MaxStreak > 0 && t.Targeting.MaxStreak < t.Targeting.MinStreak {
		return fmt.Errorf("%w: %s: max_streak below min_streak", ErrInvalidTemplate, t.ID)
	}
	if err := c.renderer.Validate(t.Body); err != nil {
		return fmt.Errorf("%s body: %w", t.ID, err)
	}
	if err := c.renderer.Validate(t.Title); err != nil {
		return fmt.Errorf("%s title: %w", t.ID, err)
	}
	return nil
}

// SetActive flips a template on or off.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) error {
	return c.store.SetActive(ctx, id, active, c.now())
}

// List returns every template, active or not.
func (c *Catalog) List(ctx context.Context) ([]domain.CoachingMessageTemplate, error) {
	return c.store.List(ctx)
}
