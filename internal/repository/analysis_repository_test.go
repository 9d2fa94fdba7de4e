package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/englivo/englivo-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("writes mistakes as json", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAnalysisRepository(db)

		analysis := &models.Analysis{
			ID:            "a1",
			SessionID:     "s1",
			ParticipantID: "p1",
			UserID:        "u1",
			Transcript:    "hello there",
			OverallScore:  70,
			CEFRLevel:     "B1",
			Mistakes: []models.Mistake{
				{Type: "grammar", Severity: "minor", Original: "he go", Corrected: "he goes"},
			},
			Feedback:  "Nice.",
			CreatedAt: now,
		}

		mock.ExpectExec(`INSERT INTO session_analyses .+ ON CONFLICT \(session_id, participant_id\) DO UPDATE`).
			WithArgs("a1", "s1", "p1", "u1", "hello there",
				0.0, 0.0, 0.0, 0.0, 70.0, "B1",
				[]byte(`[{"type":"grammar","severity":"minor","original":"he go","corrected":"he goes","explanation":""}]`),
				"Nice.", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Upsert(ctx, analysis))
	})

	t.Run("nil mistakes stored as empty array", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAnalysisRepository(db)

		mock.ExpectExec(`INSERT INTO session_analyses`).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				[]byte(`[]`),
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Upsert(ctx, &models.Analysis{ID: "a2", SessionID: "s1", ParticipantID: "p2"}))
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAnalysisRepository(db)

		mock.ExpectExec(`INSERT INTO session_analyses`).WillReturnError(errors.New("connection reset"))

		err := repo.Upsert(ctx, &models.Analysis{ID: "a3"})
		assert.ErrorContains(t, err, "failed to upsert analysis")
	})
}
