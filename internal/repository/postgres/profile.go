package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/service/profile"
)

// ProfileRepo implements profile.Repository against PostgreSQL.
type ProfileRepo struct{ db *sql.DB }

// NewProfileRepo creates a Postgres-backed profile repository.
func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

func (r *ProfileRepo) Get(ctx context.Context, userID string) (*domain.UserPersonalizationProfile, error) {
	p := &domain.UserPersonalizationProfile{}
	var windows, weights []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, COALESCE(display_name,''), frequency, COALESCE(tone_preference,''),
		       quiet_start, quiet_end, preferred_windows, category_weights,
		       locale, timezone, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &p.DisplayName, &p.Frequency, &p.TonePreference,
		&p.QuietHours.Start, &p.QuietHours.End, &windows, &weights,
		&p.Locale, &p.Timezone, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(windows) > 0 {
		if err := json.Unmarshal(windows, &p.PreferredWindows); err != nil {
			return nil, fmt.Errorf("decode preferred windows: %w", err)
		}
	}
	if len(weights) > 0 {
		if err := json.Unmarshal(weights, &p.CategoryWeights); err != nil {
			return nil, fmt.Errorf("decode category weights: %w", err)
		}
	}
	return p, nil
}

func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.UserPersonalizationProfile) error {
	windows, err := json.Marshal(nonNilWindows(p.PreferredWindows))
	if err != nil {
		return err
	}
	weights, err := json.Marshal(nonNilWeights(p.CategoryWeights))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, display_name, frequency, tone_preference,
		                           quiet_start, quiet_end, preferred_windows, category_weights,
		                           locale, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			frequency = EXCLUDED.frequency,
			tone_preference = EXCLUDED.tone_preference,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			preferred_windows = EXCLUDED.preferred_windows,
			category_weights = EXCLUDED.category_weights,
			locale = EXCLUDED.locale,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at
	`, p.UserID, nullString(p.DisplayName), p.Frequency, nullString(string(p.TonePreference)),
		p.QuietHours.Start, p.QuietHours.End, windows, weights,
		p.Locale, p.Timezone, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func nonNilWindows(w []domain.HourRange) []domain.HourRange {
	if w == nil {
		return []domain.HourRange{}
	}
	return w
}

func nonNilWeights(w map[domain.MessageCategory]float64) map[domain.MessageCategory]float64 {
	if w == nil {
		return map[domain.MessageCategory]float64{}
	}
	return w
}
