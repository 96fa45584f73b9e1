package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Entry is one persisted result and its expiry.
type Entry struct {
	Result    *domain.PredictionResult `json:"result"`
	ExpiresAt time.Time                `json:"expires_at"`
}

// Expired reports whether e is no longer servable at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Tier is the persistent cache behind the fast tier. Get returns nil, nil on
// a miss. Implementations return raw errors; the Cache wraps them.
type Tier interface {
	Name() string
	Get(ctx context.Context, userID string, t domain.PredictionType) (*Entry, error)
	Set(ctx context.Context, e *Entry) error
	DeleteUser(ctx context.Context, userID string) error
	DeleteVersion(ctx context.Context, version string) (int, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// EncodeResult serializes a result for tiers that store blobs.
func EncodeResult(r *domain.PredictionResult) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult is the inverse of EncodeResult.
func DecodeResult(data []byte) (*domain.PredictionResult, error) {
	var r domain.PredictionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func cloneResult(r *domain.PredictionResult) *domain.PredictionResult {
	c := *r
	if r.Payload.Windows != nil {
		c.Payload.Windows = append([]domain.SendWindow(nil), r.Payload.Windows...)
	}
	return &c
}
