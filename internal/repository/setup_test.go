package repository

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/englivo/englivo-backend/pkg/database"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := database.Wrap(sqlx.NewDb(mockDB, "postgres"))
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	return db, mock
}
