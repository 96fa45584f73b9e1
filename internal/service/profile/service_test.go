package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
)

type memRepo struct {
	mu    sync.Mutex
	store map[string]*domain.UserPersonalizationProfile
	err   error
}

func newMemRepo() *memRepo {
	return &memRepo{store: make(map[string]*domain.UserPersonalizationProfile)}
}

func (m *memRepo) Get(_ context.Context, userID string) (*domain.UserPersonalizationProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.store[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memRepo) Upsert(_ context.Context, p *domain.UserPersonalizationProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	if old, ok := m.store[p.UserID]; ok {
		c.CreatedAt = old.CreatedAt
	}
	m.store[p.UserID] = &c
	return nil
}

func TestProfile_DefaultWhenMissing(t *testing.T) {
	p, err := NewService(newMemRepo()).Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultProfile("u1"), p)
}

func TestProfile_RepositoryError(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("db down")
	_, err := NewService(repo).Profile(context.Background(), "u1")
	assert.Error(t, err)
}

func TestUpdate_RoundTrip(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo)
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return ts }

	in := domain.DefaultProfile("u1")
	in.Frequency = domain.FrequencyHigh
	in.CategoryWeights = map[domain.MessageCategory]float64{domain.CategoryHabitBoost: 0.1}
	require.NoError(t, svc.Update(context.Background(), in))

	got, err := svc.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyHigh, got.Frequency)
	assert.Equal(t, ts, got.CreatedAt)
	assert.Equal(t, 0.1, got.CategoryWeight(domain.CategoryHabitBoost))
	assert.Equal(t, 1.0, got.CategoryWeight(domain.CategoryStreakRisk))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.UserPersonalizationProfile)
		ok     bool
	}{
		{"default", func(*domain.UserPersonalizationProfile) {}, true},
		{"missing user", func(p *domain.UserPersonalizationProfile) { p.UserID = "" }, false},
		{"bad frequency", func(p *domain.UserPersonalizationProfile) { p.Frequency = "hourly" }, false},
		{"bad tone", func(p *domain.UserPersonalizationProfile) { p.TonePreference = "snarky" }, false},
		{"bad quiet hours", func(p *domain.UserPersonalizationProfile) { p.QuietHours = domain.HourRange{Start: 22, End: 24} }, false},
		{"bad window", func(p *domain.UserPersonalizationProfile) {
			p.PreferredWindows = []domain.HourRange{{Start: -1, End: 3}}
		}, false},
		{"weight out of range", func(p *domain.UserPersonalizationProfile) {
			p.CategoryWeights = map[domain.MessageCategory]float64{domain.CategoryMilestone: 2}
		}, false},
		{"unknown category", func(p *domain.UserPersonalizationProfile) {
			p.CategoryWeights = map[domain.MessageCategory]float64{"promo": 0.5}
		}, false},
		{"bad timezone", func(p *domain.UserPersonalizationProfile) { p.Timezone = "Mars/Olympus" }, false},
		{"named timezone", func(p *domain.UserPersonalizationProfile) { p.Timezone = "America/New_York" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.DefaultProfile("u1")
			tt.mutate(p)
			err := Validate(p)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidProfile)
			}
		})
	}
}
