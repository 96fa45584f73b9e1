package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// memRepo is an in-memory Repository for tests.
type memRepo struct {
	mu      sync.Mutex
	msgs    map[string]domain.CoachingMessage
	saveErr error
}

func newMemRepo() *memRepo { return &memRepo{msgs: map[string]domain.CoachingMessage{}} }

func (r *memRepo) Create(_ context.Context, m *domain.CoachingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[m.ID] = *m
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*domain.CoachingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *memRepo) Save(_ context.Context, m *domain.CoachingMessage, from domain.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cur, ok := r.msgs[m.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrInvalidTransition
	}
	r.msgs[m.ID] = *m
	return nil
}

func (r *memRepo) filter(keep func(domain.CoachingMessage) bool) []domain.CoachingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CoachingMessage
	for _, m := range r.msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) Recent(_ context.Context, userID string, since time.Time) ([]domain.CoachingMessage, error) {
	return r.filter(func(m domain.CoachingMessage) bool {
		return m.UserID == userID && !m.GeneratedAt.Before(since)
	}), nil
}

func (r *memRepo) ListForUser(_ context.Context, userID string, limit int) ([]domain.CoachingMessage, error) {
	out := r.filter(func(m domain.CoachingMessage) bool { return m.UserID == userID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Due(_ context.Context, now time.Time, limit int) ([]domain.CoachingMessage, error) {
	out := r.filter(func(m domain.CoachingMessage) bool {
		return m.Status == domain.MessageScheduled && !m.ScheduledFor.After(now)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Untouched(_ context.Context, cutoff time.Time, _ int) ([]domain.CoachingMessage, error) {
	return r.filter(func(m domain.CoachingMessage) bool {
		return m.Status == domain.MessageDelivered && m.UpdatedAt.Before(cutoff)
	}), nil
}

func (r *memRepo) FlagStuck(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, m := range r.msgs {
		if m.Status == domain.MessageScheduled && m.ScheduledFor.Before(cutoff) && !m.StuckFlagged {
			m.StuckFlagged = true
			r.msgs[id] = m
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Health(_ context.Context, failedSince time.Time) (domain.QueueHealth, error) {
	var h domain.QueueHealth
	for _, m := range r.filter(func(domain.CoachingMessage) bool { return true }) {
		if m.Status == domain.MessageScheduled {
			h.ScheduledDepth++
			if m.StuckFlagged {
				h.StuckFlagged++
			}
		}
		if m.Status == domain.MessageFailed && !m.UpdatedAt.Before(failedSince) {
			h.FailedLastDay++
		}
	}
	return h, nil
}

func (r *memRepo) Aggregate(_ context.Context, start, end time.Time) ([]domain.MessageRollup, error) {
	type key struct {
		c   domain.MessageCategory
		tpl string
		b   string
		s   domain.MessageStatus
	}
	counts := map[key]int{}
	for _, m := range r.filter(func(m domain.CoachingMessage) bool {
		return !m.GeneratedAt.Before(start) && m.GeneratedAt.Before(end)
	}) {
		counts[key{m.Category, m.TemplateID, m.ABBucket, m.Status}]++
	}
	var out []domain.MessageRollup
	for k, n := range counts {
		out = append(out, domain.MessageRollup{Category: k.c, TemplateID: k.tpl, ABBucket: k.b, Status: k.s, Count: n})
	}
	return out, nil
}

func (r *memRepo) DeleteOlderThan(_ context.Context, cutoff, actedCutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, m := range r.msgs {
		limit := cutoff
		if m.Status == domain.MessageActed {
			limit = actedCutoff
		}
		if m.GeneratedAt.Before(limit) {
			delete(r.msgs, id)
			n++
		}
	}
	return n, nil
}

type memRollups struct {
	days map[time.Time][]domain.MessageRollup
}

func (m *memRollups) ReplaceDay(_ context.Context, day time.Time, rows []domain.MessageRollup) error {
	if m.days == nil {
		m.days = map[time.Time][]domain.MessageRollup{}
	}
	m.days[day] = rows
	return nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
}

func (f *fakeDeliverer) Deliver(_ context.Context, m *domain.CoachingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[m.ID]++
	if f.fail[m.ID] {
		return &DeliveryError{MessageID: m.ID, StatusCode: 503, Attempts: 1}
	}
	return nil
}

func fixedClock(at *time.Time) func() time.Time { return func() time.Time { return *at } }

func newFixture(now *time.Time, d Deliverer) (*memRepo, *memRollups, *Service) {
	repo := newMemRepo()
	rollups := &memRollups{}
	tracker := NewTracker(repo, nil).WithClock(fixedClock(now))
	svc := NewService(repo, rollups, tracker, d, Options{MaxAttempts: 3, ExpireAfter: 72 * time.Hour}).WithClock(fixedClock(now))
	return repo, rollups, svc
}

func record(t *testing.T, svc *Service, id string, scheduledFor time.Time) {
	t.Helper()
	require.NoError(t, svc.Tracker().Record(context.Background(), &domain.CoachingMessage{
		ID:           id,
		UserID:       "u-" + id,
		Category:     domain.CategoryStreakRisk,
		TemplateID:   "tpl-1",
		ABBucket:     "exp:risk-1",
		Body:         "hello",
		ScheduledFor: scheduledFor,
	}))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.MessageStatus
		want     bool
	}{
		{domain.MessageGenerated, domain.MessageScheduled, true},
		{domain.MessageScheduled, domain.MessageDelivered, true},
		{domain.MessageScheduled, domain.MessageFailed, true},
		{domain.MessageDelivered, domain.MessageRead, true},
		{domain.MessageDelivered, domain.MessageActed, true},
		{domain.MessageDelivered, domain.MessageExpired, true},
		{domain.MessageRead, domain.MessageActed, false},
		{domain.MessageRead, domain.MessageExpired, false},
		{domain.MessageScheduled, domain.MessageRead, false},
		{domain.MessageGenerated, domain.MessageDelivered, false},
		{domain.MessageActed, domain.MessageRead, false},
		{domain.MessageFailed, domain.MessageScheduled, false},
		{domain.MessageExpired, domain.MessageDelivered, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTracker_Record(t *testing.T) {
	now := t0
	repo, _, svc := newFixture(&now, &fakeDeliverer{})
	m := &domain.CoachingMessage{UserID: "u1", Category: domain.CategoryMilestone}
	require.NoError(t, svc.Tracker().Record(context.Background(), m))

	assert.NotEmpty(t, m.ID)
	stored, err := repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageScheduled, stored.Status)
	assert.Equal(t, t0, stored.GeneratedAt)
	assert.Equal(t, t0, stored.ScheduledFor)
}

func TestTracker_ReadActedLifecycle(t *testing.T) {
	now := t0
	_, _, svc := newFixture(&now, &fakeDeliverer{})
	record(t, svc, "m1", t0)
	ctx := context.Background()

	_, err := svc.Tracker().MarkRead(ctx, "m1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	res, err := svc.DeliverDue(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	now = t0.Add(time.Hour)
	m, err := svc.Tracker().MarkRead(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRead, m.Status)
	require.NotNil(t, m.ReadAt)

	m, err = svc.Tracker().MarkRead(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRead, m.Status)

	_, err = svc.Tracker().MarkActed(ctx, "m1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	m, err = svc.Tracker().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRead, m.Status)
	assert.Nil(t, m.ActedAt)

	_, err = svc.Tracker().MarkRead(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracker_StaleStatusLosesRace(t *testing.T) {
	now := t0
	repo, _, svc := newFixture(&now, &fakeDeliverer{})
	record(t, svc, "m1", t0)

	stale, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	require.NoError(t, svc.Tracker().MarkDelivered(context.Background(), stale))

	again, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	again.Status = domain.MessageScheduled
	err = svc.Tracker().MarkDelivered(context.Background(), again)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.MessageScheduled, again.Status)
}

func TestDeliverDue(t *testing.T) {
	now := t0
	d := &fakeDeliverer{fail: map[string]bool{"bad": true}}
	repo, _, svc := newFixture(&now, d)
	record(t, svc, "ok1", t0.Add(-time.Minute))
	record(t, svc, "ok2", t0)
	record(t, svc, "bad", t0.Add(-time.Minute))
	record(t, svc, "later", t0.Add(time.Hour))
	ctx := context.Background()

	res, err := svc.DeliverDue(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 3, Delivered: 2, Retrying: 1}, res)

	bad, _ := repo.Get(ctx, "bad")
	assert.Equal(t, domain.MessageScheduled, bad.Status)
	assert.Equal(t, 1, bad.DeliveryAttempts)
	assert.Contains(t, bad.LastError, "503")

	later, _ := repo.Get(ctx, "later")
	assert.Equal(t, domain.MessageScheduled, later.Status)

	// Bounded: the third failed attempt fails the message for good.
	_, err = svc.DeliverDue(ctx, 10, 4)
	require.NoError(t, err)
	res, err = svc.DeliverDue(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	bad, _ = repo.Get(ctx, "bad")
	assert.Equal(t, domain.MessageFailed, bad.Status)
	assert.Equal(t, 3, bad.DeliveryAttempts)

	_, err = svc.DeliverDue(ctx, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, d.calls["bad"])
	assert.Equal(t, 1, d.calls["ok1"])
}

func TestTracker_ActedIsTerminal(t *testing.T) {
	now := t0
	_, _, svc := newFixture(&now, &fakeDeliverer{})
	record(t, svc, "m1", t0)
	ctx := context.Background()
	_, err := svc.DeliverDue(ctx, 10, 2)
	require.NoError(t, err)

	now = t0.Add(time.Hour)
	m, err := svc.Tracker().MarkActed(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageActed, m.Status)
	assert.Equal(t, t0.Add(time.Hour), *m.ActedAt)
	assert.Equal(t, t0.Add(time.Hour), *m.ReadAt)
	assert.True(t, m.Status.Terminal())

	_, err = svc.Tracker().MarkActed(ctx, "m1")
	assert.NoError(t, err)
	m, err = svc.Tracker().MarkRead(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageActed, m.Status)
}

func TestExpireUntouched(t *testing.T) {
	now := t0
	repo, _, svc := newFixture(&now, &fakeDeliverer{})
	record(t, svc, "m1", t0)
	record(t, svc, "m2", t0)
	ctx := context.Background()
	_, err := svc.DeliverDue(ctx, 10, 1)
	require.NoError(t, err)

	now = t0.Add(24 * time.Hour)
	_, err = svc.Tracker().MarkRead(ctx, "m2")
	require.NoError(t, err)

	now = t0.Add(73 * time.Hour)
	res, err := svc.DeliverDue(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	m1, _ := repo.Get(ctx, "m1")
	m2, _ := repo.Get(ctx, "m2")
	assert.Equal(t, domain.MessageExpired, m1.Status)
	assert.Equal(t, domain.MessageRead, m2.Status)
}

func TestCheckHealth_FlagsStuck(t *testing.T) {
	now := t0
	d := &fakeDeliverer{fail: map[string]bool{"stuck": true}}
	repo, _, svc := newFixture(&now, d)
	record(t, svc, "stuck", t0.Add(-2*time.Hour))
	record(t, svc, "fresh", t0.Add(10*time.Minute))

	h, err := svc.CheckHealth(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, h.ScheduledDepth)
	assert.Equal(t, 1, h.StuckFlagged)
	assert.Equal(t, t0, h.CheckedAt)

	stuck, _ := repo.Get(context.Background(), "stuck")
	assert.True(t, stuck.StuckFlagged)
	assert.Equal(t, domain.MessageScheduled, stuck.Status)

	// Already flagged messages are not counted again.
	n, err := repo.FlagStuck(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRollup(t *testing.T) {
	now := t0
	_, rollups, svc := newFixture(&now, &fakeDeliverer{})
	record(t, svc, "m1", t0)
	record(t, svc, "m2", t0)
	now = t0.Add(24 * time.Hour)
	record(t, svc, "m3", now)

	rows, err := svc.Rollup(context.Background(), t0.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, day, rows[0].Day)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, domain.MessageScheduled, rows[0].Status)
	assert.Len(t, rollups.days[day], 1)
}

func TestCleanup_KeepsActedLonger(t *testing.T) {
	now := t0
	repo, _, svc := newFixture(&now, &fakeDeliverer{})
	ctx := context.Background()
	record(t, svc, "old", t0)
	record(t, svc, "acted", t0)
	_, err := svc.DeliverDue(ctx, 10, 1)
	require.NoError(t, err)
	_, err = svc.Tracker().MarkActed(ctx, "acted")
	require.NoError(t, err)

	now = t0.AddDate(0, 0, 100)
	record(t, svc, "new", now)

	n, err := svc.Cleanup(ctx, 90*24*time.Hour, 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, "acted")
	assert.NoError(t, err)

	_, err = svc.Cleanup(ctx, 0, 0)
	assert.Error(t, err)
}

func TestPushDeliverer(t *testing.T) {
	var hits atomic.Int32
	var got pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "m1", r.Header.Get("Idempotency-Key"))
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewPushDeliverer(srv.URL, "tok", time.Second, 2, time.Millisecond)
	err := p.Deliver(context.Background(), &domain.CoachingMessage{ID: "m1", UserID: "u1", Category: domain.CategoryMilestone, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "hi", got.Body)
	assert.Equal(t, domain.CategoryMilestone, got.Category)
}

func TestPushDeliverer_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewPushDeliverer(srv.URL, "", time.Second, 2, time.Millisecond)
	err := p.Deliver(context.Background(), &domain.CoachingMessage{ID: "m1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
}
