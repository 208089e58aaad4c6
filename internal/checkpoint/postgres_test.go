package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock, name: "filter"}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS checkpoints`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_NoRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT processed_count FROM checkpoints WHERE name = \$1`).
		WithArgs("filter").
		WillReturnError(pgx.ErrNoRows)

	pos, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_Value(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT processed_count FROM checkpoints`).
		WithArgs("filter").
		WillReturnRows(pgxmock.NewRows([]string{"processed_count"}).AddRow(int64(4000)))

	pos, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4000), pos)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT processed_count FROM checkpoints`).
		WithArgs("filter").
		WillReturnError(errors.New("connection refused"))

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres load")
}

func TestPostgresStore_Save(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("filter", int64(2000), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), 2000))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Regression(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("filter", int64(5), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.Save(context.Background(), 5)
	assert.ErrorIs(t, err, ErrRegression)
	assert.NoError(t, mock.ExpectationsWereMet())
}
