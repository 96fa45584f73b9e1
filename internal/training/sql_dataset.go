package training

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/ignite/habit-coach/internal/domain"
)

// Default export queries. The warehouse view exposes pseudonymous user
// keys only; the two parameters are the window bounds.
const (
	snowflakeDatasetQuery = `
		SELECT USER_KEY, ACTIVITY_KIND, VALUE_KEY, IMPORTANCE, DURATION_MIN, OCCURRED_AT
		FROM COACH_ACTIVITY_EXPORT
		WHERE OCCURRED_AT >= ? AND OCCURRED_AT < ?
		ORDER BY USER_KEY, OCCURRED_AT`

	postgresDatasetQuery = `
		SELECT md5(user_id), kind, value_key, importance, duration_min, occurred_at
		FROM activities
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY 1, occurred_at`
)

// SQLDataset pulls the aggregated export from a warehouse over
// database/sql. Snowflake is the production driver; postgres serves
// read replicas and tests.
type SQLDataset struct {
	db    *sql.DB
	query string
}

// OpenSQLDataset opens a pool for driver ("snowflake" or "postgres").
// An empty query selects the driver's default export query.
func OpenSQLDataset(driver, dsn, query string) (*SQLDataset, error) {
	if dsn == "" {
		return nil, fmt.Errorf("training dataset DSN is required for driver %s", driver)
	}
	if query == "" {
		switch driver {
		case "snowflake":
			query = snowflakeDatasetQuery
		case "postgres":
			query = postgresDatasetQuery
		default:
			return nil, fmt.Errorf("unsupported dataset driver %q", driver)
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewSQLDataset(db, query), nil
}

// NewSQLDataset wraps an open pool.
func NewSQLDataset(db *sql.DB, query string) *SQLDataset {
	return &SQLDataset{db: db, query: query}
}

// Ping checks connectivity.
func (d *SQLDataset) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the pool.
func (d *SQLDataset) Close() error {
	return d.db.Close()
}

func (d *SQLDataset) Load(ctx context.Context, start, end time.Time) ([]domain.Activity, error) {
	rows, err := d.db.QueryContext(ctx, d.query, start, end)
	if err != nil {
		return nil, fmt.Errorf("dataset query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var (
			a          domain.Activity
			value      sql.NullString
			importance sql.NullFloat64
			duration   sql.NullFloat64
		)
		if err := rows.Scan(&a.UserID, &a.Kind, &value, &importance, &duration, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("dataset scan failed: %w", err)
		}
		a.Value = value.String
		a.Importance = importance.Float64
		a.DurationMin = duration.Float64
		a.Source = "warehouse"
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dataset rows: %w", err)
	}
	return out, nil
}
