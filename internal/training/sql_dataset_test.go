package training

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLDataset_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	start := datasetEnd.AddDate(0, 0, -90)
	at := datasetEnd.Add(-48 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM COACH_ACTIVITY_EXPORT")).
		WithArgs(start, datasetEnd).
		WillReturnRows(sqlmock.NewRows([]string{"user_key", "kind", "value_key", "importance", "duration_min", "occurred_at"}).
			AddRow("k1", "walk", "health", 0.8, 25.0, at).
			AddRow("k2", "read", nil, nil, nil, at.Add(time.Hour)))

	ds := NewSQLDataset(db, snowflakeDatasetQuery)
	acts, err := ds.Load(context.Background(), start, datasetEnd)
	require.NoError(t, err)
	require.Len(t, acts, 2)

	assert.Equal(t, "k1", acts[0].UserID)
	assert.Equal(t, "health", acts[0].Value)
	assert.Equal(t, 25.0, acts[0].DurationMin)
	assert.Equal(t, "warehouse", acts[0].Source)
	assert.Equal(t, "", acts[1].Value)
	assert.Equal(t, 0.0, acts[1].Importance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDataset_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("warehouse suspended"))
	_, err = NewSQLDataset(db, postgresDatasetQuery).Load(context.Background(), datasetEnd.AddDate(0, 0, -1), datasetEnd)
	assert.ErrorContains(t, err, "warehouse suspended")
}

func TestOpenSQLDataset_Validation(t *testing.T) {
	_, err := OpenSQLDataset("snowflake", "", "")
	assert.Error(t, err)
	_, err = OpenSQLDataset("mysql", "dsn", "")
	assert.Error(t, err)
}

func TestOpenSQLDataset_Postgres(t *testing.T) {
	ds, err := OpenSQLDataset("postgres", "postgres://coach@localhost:1/coach?sslmode=disable", "")
	require.NoError(t, err)
	assert.Equal(t, postgresDatasetQuery, ds.query)
	assert.NoError(t, ds.Close())
}
