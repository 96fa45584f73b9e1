package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/metrics"
)

var transitions = map[domain.MessageStatus][]domain.MessageStatus{
	domain.MessageGenerated: {domain.MessageScheduled, domain.MessageFailed},
	domain.MessageScheduled: {domain.MessageDelivered, domain.MessageFailed},
	// read, acted and expired are each terminal after delivered
	domain.MessageDelivered: {domain.MessageRead, domain.MessageActed, domain.MessageExpired},
}

// CanTransition reports whether a message may move from one status to
// another.
func CanTransition(from, to domain.MessageStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker records message lifecycle changes.
type Tracker struct {
	repo    Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker creates a tracker. m may be nil.
func NewTracker(repo Repository, m *metrics.Metrics) *Tracker {
	return &Tracker{repo: repo, metrics: m, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Record stores a freshly generated message and moves it to scheduled.
// A message is persisted only once it is scheduled.
func (t *Tracker) Record(ctx context.Context, m *domain.CoachingMessage) error {
	now := t.now()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = now
	}
	if m.ScheduledFor.IsZero() {
		m.ScheduledFor = now
	}
	m.Status = domain.MessageGenerated
	t.metrics.MessageTransition(string(m.Category), string(domain.MessageGenerated))

	m.Status = domain.MessageScheduled
	m.UpdatedAt = now
	if err := t.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	t.metrics.MessageTransition(string(m.Category), string(domain.MessageScheduled))
	return nil
}

// Get returns one message.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.CoachingMessage, error) {
	return t.repo.Get(ctx, id)
}

// MarkDelivered records a successful hand-off.
func (t *Tracker) MarkDelivered(ctx context.Context, m *domain.CoachingMessage) error {
	return t.move(ctx, m, domain.MessageDelivered, func(m *domain.CoachingMessage, now time.Time) {
		m.DeliveryAttempts++
		m.DeliveredAt = &now
		m.LastError = ""
		m.StuckFlagged = false
	})
}

// MarkRead records a client read callback. Reading twice, or reading a
// message already acted on, is a no-op.
func (t *Tracker) MarkRead(ctx context.Context, id string) (*domain.CoachingMessage, error) {
	m, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.MessageRead || m.Status == domain.MessageActed {
		return m, nil
	}
	err = t.move(ctx, m, domain.MessageRead, func(m *domain.CoachingMessage, now time.Time) {
		m.ReadAt = &now
	})
	return m, err
}

// MarkActed records that the user acted on a delivered message. Acting
// twice is a no-op; a message already read stays read and the call fails
// with a TransitionError.
func (t *Tracker) MarkActed(ctx context.Context, id string) (*domain.CoachingMessage, error) {
	m, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == domain.MessageActed {
		return m, nil
	}
	err = t.move(ctx, m, domain.MessageActed, func(m *domain.CoachingMessage, now time.Time) {
		if m.ReadAt == nil {
			m.ReadAt = &now
		}
		m.ActedAt = &now
	})
	return m, err
}

// RecordAttempt stores a failed delivery attempt. Once attempts reach
// maxAttempts the message becomes failed; otherwise it stays scheduled for
// the next sweep. It reports whether the message failed.
func (t *Tracker) RecordAttempt(ctx context.Context, m *domain.CoachingMessage, cause error, maxAttempts int) (bool, error) {
	if m.DeliveryAttempts+1 >= maxAttempts {
		err := t.move(ctx, m, domain.MessageFailed, func(m *domain.CoachingMessage, _ time.Time) {
			m.DeliveryAttempts++
			m.LastError = cause.Error()
		})
		return err == nil, err
	}
	prev := *m
	m.DeliveryAttempts++
	m.LastError = cause.Error()
	m.UpdatedAt = t.now()
	if err := t.repo.Save(ctx, m, m.Status); err != nil {
		*m = prev
		return false, fmt.Errorf("save attempt: %w", err)
	}
	return false, nil
}

// Expire moves an untouched delivered message to expired.
func (t *Tracker) Expire(ctx context.Context, m *domain.CoachingMessage) error {
	return t.move(ctx, m, domain.MessageExpired, nil)
}

func (t *Tracker) move(ctx context.Context, m *domain.CoachingMessage, to domain.MessageStatus, mutate func(*domain.CoachingMessage, time.Time)) error {
	from := m.Status
	if !CanTransition(from, to) {
		return &TransitionError{MessageID: m.ID, From: from, To: to}
	}
	prev := *m
	now := t.now()
	if mutate != nil {
		mutate(m, now)
	}
	m.Status = to
	m.UpdatedAt = now
	if err := t.repo.Save(ctx, m, from); err != nil {
		*m = prev
		if errors.Is(err, ErrInvalidTransition) {
			return &TransitionError{MessageID: m.ID, From: from, To: to}
		}
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}
	t.metrics.MessageTransition(string(m.Category), string(to))
	return nil
}
