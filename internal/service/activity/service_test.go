package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
)

// memRepo is an in-memory repository for testing.
type memRepo struct {
	mu   sync.Mutex
	acts []domain.Activity
	err  error
}

func (m *memRepo) Insert(_ context.Context, a *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, x := range m.acts {
		if x.ID == a.ID {
			return nil
		}
	}
	m.acts = append(m.acts, *a)
	return nil
}

func (m *memRepo) Fetch(_ context.Context, userID string, start, end time.Time) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Activity
	for _, a := range m.acts {
		if a.UserID == userID && !a.OccurredAt.Before(start) && a.OccurredAt.Before(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) FetchRange(_ context.Context, start, end time.Time) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Activity
	for _, a := range m.acts {
		if !a.OccurredAt.Before(start) && a.OccurredAt.Before(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) ActiveUsers(_ context.Context, since time.Time, afterID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var users []string
	for _, a := range m.acts {
		if a.OccurredAt.Before(since) || a.UserID <= afterID || seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		users = append(users, a.UserID)
	}
	sort.Strings(users)
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *memRepo) CountSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.acts {
		if !a.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type recorder struct {
	invalidated []string
	published   []string
	err         error
}

func (r *recorder) InvalidateUser(_ context.Context, userID string) error {
	r.invalidated = append(r.invalidated, userID)
	return r.err
}

func (r *recorder) ActivityLogged(_ context.Context, a *domain.Activity) error {
	r.published = append(r.published, a.ID)
	return r.err
}

var now = time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)

func newTestService(repo *memRepo, rec *recorder) *Service {
	return NewService(repo, rec, rec).WithClock(func() time.Time { return now })
}

func TestLog_StoresInvalidatesAndPublishes(t *testing.T) {
	repo, rec := &memRepo{}, &recorder{}
	svc := newTestService(repo, rec)

	a, err := svc.Log(context.Background(), &domain.Activity{UserID: " u1 ", Kind: "run", DurationMin: 25})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, now, a.OccurredAt)
	assert.Len(t, repo.acts, 1)
	assert.Equal(t, []string{"u1"}, rec.invalidated)
	assert.Equal(t, []string{a.ID}, rec.published)
}

func TestLog_SideEffectFailuresDoNotFailTheWrite(t *testing.T) {
	repo, rec := &memRepo{}, &recorder{err: errors.New("redis down")}
	svc := newTestService(repo, rec)

	_, err := svc.Log(context.Background(), &domain.Activity{UserID: "u1", Kind: "run"})
	require.NoError(t, err)
	assert.Len(t, repo.acts, 1)
}

func TestLog_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Activity
	}{
		{"missing user", domain.Activity{Kind: "run"}},
		{"missing kind", domain.Activity{UserID: "u1"}},
		{"negative duration", domain.Activity{UserID: "u1", Kind: "run", DurationMin: -1}},
		{"importance above one", domain.Activity{UserID: "u1", Kind: "run", Importance: 1.5}},
		{"future", domain.Activity{UserID: "u1", Kind: "run", OccurredAt: now.Add(time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, rec := &memRepo{}, &recorder{}
			in := tt.in
			_, err := newTestService(repo, rec).Log(context.Background(), &in)
			assert.ErrorIs(t, err, ErrInvalidActivity)
			assert.Empty(t, repo.acts)
			assert.Empty(t, rec.invalidated)
		})
	}
}

func TestLog_RepositoryError(t *testing.T) {
	repo, rec := &memRepo{err: errors.New("db down")}, &recorder{}
	_, err := newTestService(repo, rec).Log(context.Background(), &domain.Activity{UserID: "u1", Kind: "run"})
	require.Error(t, err)
	assert.Empty(t, rec.invalidated, "no invalidation when nothing was written")
}

func TestEachActiveUser_Pages(t *testing.T) {
	repo := &memRepo{}
	for i := 0; i < 7; i++ {
		repo.acts = append(repo.acts, domain.Activity{ID: fmt.Sprint(i), UserID: fmt.Sprintf("u%d", i), OccurredAt: now.Add(-time.Hour)})
	}
	repo.acts = append(repo.acts, domain.Activity{ID: "old", UserID: "stale", OccurredAt: now.AddDate(0, 0, -60)})
	svc := newTestService(repo, &recorder{})

	var pages [][]string
	err := svc.EachActiveUser(context.Background(), now.AddDate(0, 0, -30), 3, func(users []string) error {
		pages = append(pages, users)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, []string{"u0", "u1", "u2"}, pages[0])
	assert.Equal(t, []string{"u6"}, pages[2])
}

func TestEachActiveUser_StopsOnError(t *testing.T) {
	repo := &memRepo{acts: []domain.Activity{{ID: "a", UserID: "u1", OccurredAt: now}}}
	boom := errors.New("boom")
	err := newTestService(repo, &recorder{}).EachActiveUser(context.Background(), now.Add(-time.Hour), 10, func([]string) error { return boom })
	assert.ErrorIs(t, err, boom)
}
