package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/database"
)

type AnalysisRepository struct {
	db *database.DB
}

func NewAnalysisRepository(db *database.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Upsert 세션/참가자당 한 행, 재처리 시 덮어씀
func (r *AnalysisRepository) Upsert(ctx context.Context, analysis *models.Analysis) error {
	mistakes := analysis.Mistakes
	if mistakes == nil {
		mistakes = []models.Mistake{}
	}
	mistakesJSON, err := json.Marshal(mistakes)
	if err != nil {
		return fmt.Errorf("failed to marshal mistakes: %w", err)
	}

	query := `
		INSERT INTO session_analyses (
			id, session_id, participant_id, user_id, transcript,
			fluency_score, grammar_score, pronunciation_score, vocabulary_score, overall_score,
			cefr_level, mistakes, feedback, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id, participant_id) DO UPDATE
		SET transcript = EXCLUDED.transcript,
		    fluency_score = EXCLUDED.fluency_score,
		    grammar_score = EXCLUDED.grammar_score,
		    pronunciation_score = EXCLUDED.pronunciation_score,
		    vocabulary_score = EXCLUDED.vocabulary_score,
		    overall_score = EXCLUDED.overall_score,
		    cefr_level = EXCLUDED.cefr_level,
		    mistakes = EXCLUDED.mistakes,
		    feedback = EXCLUDED.feedback,
		    updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		analysis.ID,
		analysis.SessionID,
		analysis.ParticipantID,
		analysis.UserID,
		analysis.Transcript,
		analysis.FluencyScore,
		analysis.GrammarScore,
		analysis.PronunciationScore,
		analysis.VocabularyScore,
		analysis.OverallScore,
		analysis.CEFRLevel,
		mistakesJSON,
		analysis.Feedback,
		analysis.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}

	return nil
}
