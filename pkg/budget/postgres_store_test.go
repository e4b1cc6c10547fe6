package budget

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT spend FROM budget_spend WHERE tenant_id = $1 AND period = $2")

	mock.ExpectQuery(query).
		WithArgs("tenant-1", "2026-10").
		WillReturnRows(sqlmock.NewRows([]string{"spend"}).AddRow(420.5))

	spend, err := store.Load(ctx, "tenant-1", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, 420.5, spend)

	mock.ExpectQuery(query).
		WithArgs("tenant-2", "2026-10").
		WillReturnRows(sqlmock.NewRows([]string{"spend"}))

	spend, err = store.Load(ctx, "tenant-2", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, 0.0, spend)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSpend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO budget_spend")).
		WithArgs("tenant-1", "2026-10", 150.0).
		WillReturnRows(sqlmock.NewRows([]string{"spend"}).AddRow(570.5))

	total, err := store.AddSpend(context.Background(), "tenant-1", "2026-10", 150)
	require.NoError(t, err)
	assert.Equal(t, 570.5, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddSpendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	boom := errors.New("deadlock detected")
	mock.ExpectQuery("INSERT INTO budget_spend").WillReturnError(boom)

	m, err := NewMonitor(1000, WithStore(NewPostgresStore(db)))
	require.NoError(t, err)
	err = m.RecordSpend(context.Background(), 50)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0.0, m.Summary().CurrentSpend)
}

func TestPostgresStore_Init(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS budget_spend").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresStore(db).Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
