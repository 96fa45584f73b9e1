package templates

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
)

type memCatalog struct {
	mu   sync.Mutex
	rows map[string]domain.CoachingMessageTemplate
}

func (m *memCatalog) ListActive(_ context.Context, c domain.MessageCategory) ([]domain.CoachingMessageTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CoachingMessageTemplate
	for _, t := range m.rows {
		if t.Active && t.Category == c {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memCatalog) Get(_ context.Context, id string) (*domain.CoachingMessageTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *memCatalog) List(context.Context) ([]domain.CoachingMessageTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CoachingMessageTemplate, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCatalog) Upsert(_ context.Context, t *domain.CoachingMessageTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.rows[t.ID]; ok {
		t.CreatedAt = prev.CreatedAt
	}
	m.rows[t.ID] = *t
	return nil
}

func (m *memCatalog) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	t.Active, t.UpdatedAt = active, at
	m.rows[id] = t
	return nil
}

func seedSet() []domain.CoachingMessageTemplate {
	return []domain.CoachingMessageTemplate{
		{ID: "risk-1", Category: domain.CategoryStreakRisk, Tone: domain.ToneDirect, Body: "Keep your {{ prior_streak }} day run alive.", Weight: 1, Active: true},
		{ID: "mile-1", Category: domain.CategoryMilestone, Tone: domain.ToneCelebratory, Title: "{{ streak }} days", Body: "Nice work {{ name | default: \"friend\" }}!", Weight: 2, Active: true},
	}
}

func TestCatalog_SeedIsIdempotent(t *testing.T) {
	store := &memCatalog{rows: map[string]domain.CoachingMessageTemplate{}}
	first := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewCatalog(store, NewRenderer()).WithClock(func() time.Time { return first })

	n, err := c.Seed(context.Background(), seedSet())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	later := first.Add(time.Hour)
	c.WithClock(func() time.Time { return later })
	_, err = c.Seed(context.Background(), seedSet())
	require.NoError(t, err)

	all, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].CreatedAt)
	assert.Equal(t, later, all[0].UpdatedAt)
}

func TestCatalog_SeedRejectsInvalidBeforeWriting(t *testing.T) {
	store := &memCatalog{rows: map[string]domain.CoachingMessageTemplate{}}
	c := NewCatalog(store, NewRenderer())

	set := seedSet()
	set[1].Body = "{% if ready %}unterminated"
	_, err := c.Seed(context.Background(), set)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
	assert.Empty(t, store.rows)
}

func TestCatalog_Validate(t *testing.T) {
	c := NewCatalog(&memCatalog{}, NewRenderer())
	base := seedSet()[0]

	tests := []struct {
		name   string
		mutate func(*domain.CoachingMessageTemplate)
	}{
		{"missing id", func(t *domain.CoachingMessageTemplate) { t.ID = " " }},
		{"unknown category", func(t *domain.CoachingMessageTemplate) { t.Category = "promo" }},
		{"unknown tone", func(t *domain.CoachingMessageTemplate) { t.Tone = "snarky" }},
		{"empty body", func(t *domain.CoachingMessageTemplate) { t.Body = "" }},
		{"negative weight", func(t *domain.CoachingMessageTemplate) { t.Weight = -1 }},
		{"streak range", func(t *domain.CoachingMessageTemplate) { t.Targeting = domain.TargetingPredicate{MinStreak: 5, MaxStreak: 2} }},
		{"bad title", func(t *domain.CoachingMessageTemplate) { t.Title = "{% if ready %}open" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := base
			tt.mutate(&tpl)
			assert.ErrorIs(t, c.Validate(&tpl), ErrInvalidTemplate)
		})
	}
	assert.NoError(t, c.Validate(&base))
}

func TestCatalog_SetActive(t *testing.T) {
	store := &memCatalog{rows: map[string]domain.CoachingMessageTemplate{}}
	c := NewCatalog(store, NewRenderer())
	_, err := c.Seed(context.Background(), seedSet())
	require.NoError(t, err)

	require.NoError(t, c.SetActive(context.Background(), "risk-1", false))
	require.NoError(t, c.SetActive(context.Background(), "risk-1", false))
	active, _ := store.ListActive(context.Background(), domain.CategoryStreakRisk)
	assert.Empty(t, active)

	assert.ErrorIs(t, c.SetActive(context.Background(), "nope", true), ErrNotFound)
}
