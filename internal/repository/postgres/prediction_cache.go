package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/habit-coach/internal/cache"
	"github.com/ignite/habit-coach/internal/domain"
)

// PredictionCacheTier is the Postgres persistent cache tier. Expired rows
// are filtered on read and removed by PurgeExpired in the weekly cleanup.
type PredictionCacheTier struct{ db *sql.DB }

// NewPredictionCacheTier creates the tier.
func NewPredictionCacheTier(db *sql.DB) *PredictionCacheTier { return &PredictionCacheTier{db: db} }

func (t *PredictionCacheTier) Name() string { return "postgres" }

func (t *PredictionCacheTier) Get(ctx context.Context, userID string, pt domain.PredictionType) (*cache.Entry, error) {
	var (
		data      []byte
		expiresAt time.Time
	)
	err := t.db.QueryRowContext(ctx, `
		SELECT result, expires_at FROM prediction_cache
		WHERE user_id = $1 AND prediction_type = $2
	`, userID, pt).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached prediction: %w", err)
	}
	r, err := cache.DecodeResult(data)
	if err != nil {
		return nil, fmt.Errorf("decode cached prediction: %w", err)
	}
	return &cache.Entry{Result: r, ExpiresAt: expiresAt}, nil
}

func (t *PredictionCacheTier) Set(ctx context.Context, e *cache.Entry) error {
	data, err := cache.EncodeResult(e.Result)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO prediction_cache (user_id, prediction_type, model_version, result, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, prediction_type) DO UPDATE SET
			model_version = EXCLUDED.model_version,
			result = EXCLUDED.result,
			expires_at = EXCLUDED.expires_at
	`, e.Result.UserID, e.Result.Type, e.Result.ModelVersion, data, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("set cached prediction: %w", err)
	}
	return nil
}

func (t *PredictionCacheTier) DeleteUser(ctx context.Context, userID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM prediction_cache WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cached predictions: %w", err)
	}
	return nil
}

func (t *PredictionCacheTier) DeleteVersion(ctx context.Context, version string) (int, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM prediction_cache WHERE model_version = $1`, version)
	if err != nil {
		return 0, fmt.Errorf("delete cached version: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *PredictionCacheTier) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM prediction_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge cached predictions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var _ cache.Tier = (*PredictionCacheTier)(nil)
