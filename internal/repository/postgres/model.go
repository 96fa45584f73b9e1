package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/training"
)

// ModelRepo implements training.ModelRepository. Parameters live in the
// artifact blob; the table keeps lifecycle and evaluation metrics.
type ModelRepo struct{ db *sql.DB }

// NewModelRepo creates a Postgres-backed model registry table.
func NewModelRepo(db *sql.DB) *ModelRepo { return &ModelRepo{db: db} }

// uniqueViolation is the Postgres error code for a unique constraint.
const uniqueViolation = "23505"

// Insert records an unpublished version and assigns a.Version one past the
// highest version of its type. Two concurrent inserts can read the same
// maximum; the loser gets training.ErrVersionConflict.
func (r *ModelRepo) Insert(ctx context.Context, a *domain.ModelArtifact) error {
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO model_versions (id, model_type, version, trained_at, window_start, window_end,
		                            metrics, blob_key, published_at, retired_at)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6, $7, NULL, NULL
		FROM model_versions WHERE model_type = $2
		RETURNING version
	`, a.ID, a.Type, a.TrainedAt, a.WindowStart, a.WindowEnd, metrics, a.BlobKey).Scan(&a.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", training.ErrVersionConflict, a.Type)
		}
		return fmt.Errorf("insert model version: %w", err)
	}
	return nil
}

// Activate publishes a and retires every other published version of its
// type in one transaction.
func (r *ModelRepo) Activate(ctx context.Context, a *domain.ModelArtifact, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE model_versions SET published_at = $2 WHERE id = $1`, a.ID, at)
	if err != nil {
		return fmt.Errorf("publish model version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("publish model version %s: not recorded", a.VersionTag())
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE model_versions SET retired_at = $3
		WHERE model_type = $1 AND id <> $2 AND published_at IS NOT NULL AND retired_at IS NULL
	`, a.Type, a.ID, at); err != nil {
		return fmt.Errorf("retire model versions: %w", err)
	}
	return tx.Commit()
}

func (r *ModelRepo) List(ctx context.Context) ([]*domain.ModelArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, model_type, version, trained_at, window_start, window_end,
		       metrics, blob_key, published_at, retired_at
		FROM model_versions
		ORDER BY model_type, version
	`)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ModelArtifact
	for rows.Next() {
		a := &domain.ModelArtifact{}
		var (
			metrics            []byte
			published, retired sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Version, &a.TrainedAt, &a.WindowStart, &a.WindowEnd,
			&metrics, &a.BlobKey, &published, &retired); err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		if err := json.Unmarshal(metrics, &a.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for %s: %w", a.VersionTag(), err)
		}
		a.PublishedAt, a.RetiredAt = timePtr(published), timePtr(retired)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ModelRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM model_versions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete model version: %w", err)
	}
	return nil
}

var _ training.ModelRepository = (*ModelRepo)(nil)
