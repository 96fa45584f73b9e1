package coaching

import (
	"context"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/service/delivery"
)

type deliveryMessages struct {
	svc *delivery.Service
}

// NewMessages adapts the delivery service to Messages.
func NewMessages(svc *delivery.Service) Messages {
	return deliveryMessages{svc: svc}
}

func (d deliveryMessages) Recent(ctx context.Context, userID string, since time.Time) ([]domain.CoachingMessage, error) {
	return d.svc.Recent(ctx, userID, since)
}

func (d deliveryMessages) Record(ctx context.Context, m *domain.CoachingMessage) error {
	return d.svc.Tracker().Record(ctx, m)
}
