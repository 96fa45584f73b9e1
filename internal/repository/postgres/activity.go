package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// ActivityRepo implements activity.Repository against PostgreSQL.
type ActivityRepo struct{ db *sql.DB }

// NewActivityRepo creates a Postgres-backed activity repository.
func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{db: db} }

const activityColumns = `id, user_id, kind, COALESCE(value_key,''), COALESCE(importance,0), duration_min, occurred_at, COALESCE(source,'')`

func (r *ActivityRepo) Insert(ctx context.Context, a *domain.Activity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities (id, user_id, kind, value_key, importance, duration_min, occurred_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.UserID, a.Kind, nullString(a.Value), a.Importance, a.DurationMin, a.OccurredAt, nullString(a.Source))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *ActivityRepo) Fetch(ctx context.Context, userID string, start, end time.Time) ([]domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at, id
	`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch activities: %w", err)
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) FetchRange(ctx context.Context, start, end time.Time) ([]domain.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY user_id, occurred_at, id
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch activity range: %w", err)
	}
	return scanActivities(rows)
}

func (r *ActivityRepo) ActiveUsers(ctx context.Context, since time.Time, afterID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id
		FROM activities
		WHERE occurred_at >= $1 AND user_id > $2
		ORDER BY user_id
		LIMIT $3
	`, since, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ActivityRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}

func scanActivities(rows *sql.Rows) ([]domain.Activity, error) {
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &a.Value, &a.Importance, &a.DurationMin, &a.OccurredAt, &a.Source); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
