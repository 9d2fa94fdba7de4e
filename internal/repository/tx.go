package repository

import (
	"context"
	"fmt"

	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// TxFn 트랜잭션 안에서 실행할 함수
type TxFn func(ctx context.Context, tx *sqlx.Tx) error

// RunInTransaction fn이 에러를 반환하거나 panic이면 롤백, 아니면 커밋
func RunInTransaction(ctx context.Context, db *sqlx.DB, fn TxFn) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error("Failed to roll back transaction after panic", "error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
