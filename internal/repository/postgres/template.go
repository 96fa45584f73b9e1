package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/templates"
)

// TemplateRepo implements templates.CatalogStore against PostgreSQL.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

const templateColumns = `
	id, category, tone, segments, locales, risk_levels, min_streak, max_streak,
	title, body, weight, COALESCE(experiment_id,''), active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s rowScanner) (*domain.CoachingMessageTemplate, error) {
	t := &domain.CoachingMessageTemplate{}
	var segments, locales, risks []string
	err := s.Scan(
		&t.ID, &t.Category, &t.Tone, pq.Array(&segments), pq.Array(&locales), pq.Array(&risks),
		&t.Targeting.MinStreak, &t.Targeting.MaxStreak,
		&t.Title, &t.Body, &t.Weight, &t.ExperimentID, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, s := range segments {
		t.Targeting.Segments = append(t.Targeting.Segments, domain.Archetype(s))
	}
	if len(locales) > 0 {
		t.Targeting.Locales = locales
	}
	for _, r := range risks {
		t.Targeting.RiskLevels = append(t.Targeting.RiskLevels, domain.RiskLevel(r))
	}
	return t, nil
}

func (r *TemplateRepo) ListActive(ctx context.Context, category domain.MessageCategory) ([]domain.CoachingMessageTemplate, error) {
	return r.list(ctx, `SELECT `+templateColumns+` FROM coaching_templates WHERE active AND category = $1 ORDER BY id`, category)
}

func (r *TemplateRepo) List(ctx context.Context) ([]domain.CoachingMessageTemplate, error) {
	return r.list(ctx, `SELECT `+templateColumns+` FROM coaching_templates ORDER BY id`)
}

func (r *TemplateRepo) list(ctx context.Context, q string, args ...any) ([]domain.CoachingMessageTemplate, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.CoachingMessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (*domain.CoachingMessageTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM coaching_templates WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, templates.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) Upsert(ctx context.Context, t *domain.CoachingMessageTemplate) error {
	segments := make([]string, 0, len(t.Targeting.Segments))
	for _, s := range t.Targeting.Segments {
		segments = append(segments, string(s))
	}
	risks := make([]string, 0, len(t.Targeting.RiskLevels))
	for _, l := range t.Targeting.RiskLevels {
		risks = append(risks, string(l))
	}
	locales := t.Targeting.Locales
	if locales == nil {
		locales = []string{}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coaching_templates (id, category, tone, segments, locales, risk_levels,
		                                min_streak, max_streak, title, body, weight,
		                                experiment_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			tone = EXCLUDED.tone,
			segments = EXCLUDED.segments,
			locales = EXCLUDED.locales,
			risk_levels = EXCLUDED.risk_levels,
			min_streak = EXCLUDED.min_streak,
			max_streak = EXCLUDED.max_streak,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			weight = EXCLUDED.weight,
			experiment_id = EXCLUDED.experiment_id,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, t.ID, t.Category, t.Tone, pq.Array(segments), pq.Array(locales), pq.Array(risks),
		t.Targeting.MinStreak, t.Targeting.MaxStreak, t.Title, t.Body, t.Weight,
		nullString(t.ExperimentID), t.Active, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

func (r *TemplateRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE coaching_templates SET active = $2, updated_at = $3 WHERE id = $1
	`, id, active, at)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return templates.ErrNotFound
	}
	return nil
}

var _ templates.CatalogStore = (*TemplateRepo)(nil)
