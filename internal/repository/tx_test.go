package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		called := false
		err := RunInTransaction(ctx, db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
			called = true
			return nil
		})

		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := RunInTransaction(ctx, db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "kaboom", func() {
			_ = RunInTransaction(ctx, db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
				panic("kaboom")
			})
		})
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin().WillReturnError(errors.New("no connection"))

		err := RunInTransaction(ctx, db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
			t.Fatal("fn must not run")
			return nil
		})

		assert.ErrorContains(t, err, "failed to begin transaction")
	})
}
