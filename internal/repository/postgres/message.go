package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/service/delivery"
)

// MessageRepo implements delivery.Repository and delivery.RollupStore
// against PostgreSQL.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `
	id, user_id, category, tone, priority, generated_at, scheduled_for, status,
	template_id, COALESCE(ab_bucket,''), COALESCE(title,''), body, personalization,
	trigger_reason, prediction_refs, delivery_attempts, COALESCE(last_error,''),
	delivered_at, read_at, acted_at, stuck_flagged, updated_at`

func scanMessage(s rowScanner) (*domain.CoachingMessage, error) {
	m := &domain.CoachingMessage{}
	var (
		personalization, refs  []byte
		delivered, read, acted sql.NullTime
	)
	err := s.Scan(
		&m.ID, &m.UserID, &m.Category, &m.Tone, &m.Priority, &m.GeneratedAt, &m.ScheduledFor, &m.Status,
		&m.TemplateID, &m.ABBucket, &m.Title, &m.Body, &personalization,
		&m.Trigger, &refs, &m.DeliveryAttempts, &m.LastError,
		&delivered, &read, &acted, &m.StuckFlagged, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(personalization) > 0 && string(personalization) != "{}" {
		if err := json.Unmarshal(personalization, &m.Personalization); err != nil {
			return nil, fmt.Errorf("decode personalization: %w", err)
		}
	}
	if len(refs) > 0 && string(refs) != "[]" {
		if err := json.Unmarshal(refs, &m.PredictionRefs); err != nil {
			return nil, fmt.Errorf("decode prediction refs: %w", err)
		}
	}
	m.DeliveredAt, m.ReadAt, m.ActedAt = timePtr(delivered), timePtr(read), timePtr(acted)
	return m, nil
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.CoachingMessage) error {
	personalization, err := json.Marshal(m.Personalization)
	if err != nil {
		return fmt.Errorf("encode personalization: %w", err)
	}
	if m.Personalization == nil {
		personalization = []byte("{}")
	}
	refs, err := json.Marshal(m.PredictionRefs)
	if err != nil {
		return fmt.Errorf("encode prediction refs: %w", err)
	}
	if m.PredictionRefs == nil {
		refs = []byte("[]")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO coaching_messages (id, user_id, category, tone, priority, generated_at,
		                               scheduled_for, status, template_id, ab_bucket, title, body,
		                               personalization, trigger_reason, prediction_refs, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, m.ID, m.UserID, m.Category, m.Tone, m.Priority, m.GeneratedAt,
		m.ScheduledFor, m.Status, m.TemplateID, nullString(m.ABBucket), nullString(m.Title), m.Body,
		personalization, m.Trigger, refs, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.CoachingMessage, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM coaching_messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// Save is a compare-and-set on status.
func (r *MessageRepo) Save(ctx context.Context, m *domain.CoachingMessage, from domain.MessageStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE coaching_messages SET
			status = $3, delivery_attempts = $4, last_error = $5,
			delivered_at = $6, read_at = $7, acted_at = $8,
			stuck_flagged = $9, updated_at = $10
		WHERE id = $1 AND status = $2
	`, m.ID, from, m.Status, m.DeliveryAttempts, nullString(m.LastError),
		nullTime(m.DeliveredAt), nullTime(m.ReadAt), nullTime(m.ActedAt),
		m.StuckFlagged, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM coaching_messages WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return delivery.ErrNotFound
	}
	return delivery.ErrInvalidTransition
}

func (r *MessageRepo) Recent(ctx context.Context, userID string, since time.Time) ([]domain.CoachingMessage, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM coaching_messages
		WHERE user_id = $1 AND generated_at >= $2
		ORDER BY generated_at DESC
	`, userID, since)
}

func (r *MessageRepo) ListForUser(ctx context.Context, userID string, limit int) ([]domain.CoachingMessage, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM coaching_messages
		WHERE user_id = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`, userID, limit)
}

func (r *MessageRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.CoachingMessage, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM coaching_messages
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2
	`, now, limit)
}

func (r *MessageRepo) Untouched(ctx context.Context, cutoff time.Time, limit int) ([]domain.CoachingMessage, error) {
	return r.query(ctx, `
		SELECT `+messageColumns+` FROM coaching_messages
		WHERE status = 'delivered' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, cutoff, limit)
}

func (r *MessageRepo) query(ctx context.Context, q string, args ...any) ([]domain.CoachingMessage, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.CoachingMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) FlagStuck(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE coaching_messages SET stuck_flagged = TRUE
		WHERE status = 'scheduled' AND scheduled_for < $1 AND NOT stuck_flagged
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("flag stuck messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *MessageRepo) Health(ctx context.Context, failedSince time.Time) (domain.QueueHealth, error) {
	var h domain.QueueHealth
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'scheduled'),
			COUNT(*) FILTER (WHERE status = 'scheduled' AND stuck_flagged),
			COUNT(*) FILTER (WHERE status = 'failed' AND updated_at >= $1)
		FROM coaching_messages
	`, failedSince).Scan(&h.ScheduledDepth, &h.StuckFlagged, &h.FailedLastDay)
	if err != nil {
		return h, fmt.Errorf("queue health: %w", err)
	}
	return h, nil
}

func (r *MessageRepo) Aggregate(ctx context.Context, start, end time.Time) ([]domain.MessageRollup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT category, template_id, COALESCE(ab_bucket,''), status, COUNT(*)
		FROM coaching_messages
		WHERE generated_at >= $1 AND generated_at < $2
		GROUP BY 1, 2, 3, 4
		ORDER BY 1, 2, 3, 4
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregate messages: %w", err)
	}
	defer rows.Close()

	var out []domain.MessageRollup
	for rows.Next() {
		var row domain.MessageRollup
		if err := rows.Scan(&row.Category, &row.TemplateID, &row.ABBucket, &row.Status, &row.Count); err != nil {
			return nil, fmt.Errorf("scan rollup: %w", err)
		}
		row.Day = start
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *MessageRepo) DeleteOlderThan(ctx context.Context, cutoff, actedCutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM coaching_messages
		WHERE (status <> 'acted' AND generated_at < $1)
		   OR (status = 'acted' AND generated_at < $2)
	`, cutoff, actedCutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReplaceDay rewrites one day of the rollup table in a transaction.
func (r *MessageRepo) ReplaceDay(ctx context.Context, day time.Time, rows []domain.MessageRollup) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollup: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM coaching_message_rollups WHERE day = $1`, day); err != nil {
		return fmt.Errorf("clear rollup day: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO coaching_message_rollups (day, category, template_id, ab_bucket, status, count)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, day, row.Category, row.TemplateID, row.ABBucket, row.Status, row.Count); err != nil {
			return fmt.Errorf("insert rollup row: %w", err)
		}
	}
	return tx.Commit()
}

var (
	_ delivery.Repository  = (*MessageRepo)(nil)
	_ delivery.RollupStore = (*MessageRepo)(nil)
)
