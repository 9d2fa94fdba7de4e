package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/internal/service"
	"github.com/englivo/englivo-backend/pkg/database"
	"github.com/jmoiron/sqlx"
)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, match_id, topic, status, estimated_duration, duration, transcript, started_at, ended_at`

// CreateWithParticipants 세션과 참가자 행을 한 트랜잭션으로 생성
func (r *SessionRepository) CreateWithParticipants(ctx context.Context, session *models.ConversationSession, participants []models.SessionParticipant) error {
	return RunInTransaction(ctx, r.db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO conversation_sessions (id, match_id, topic, status, estimated_duration, started_at)
			VALUES (:id, :match_id, :topic, :status, :estimated_duration, :started_at)
		`, session)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		for i := range participants {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO session_participants (id, session_id, user_id)
				VALUES (:id, :session_id, :user_id)
			`, &participants[i])
			if err != nil {
				return fmt.Errorf("failed to insert participant: %w", err)
			}
		}

		return nil
	})
}

// FindByID ID로 세션 찾기 (없으면 nil)
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.ConversationSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM conversation_sessions WHERE id = $1`

	session := &models.ConversationSession{}
	err := r.db.GetContext(ctx, session, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// FindParticipants 세션 참가자 목록
func (r *SessionRepository) FindParticipants(ctx context.Context, sessionID string) ([]models.SessionParticipant, error) {
	query := `
		SELECT id, session_id, user_id, audio_url, last_heartbeat
		FROM session_participants
		WHERE session_id = $1
		ORDER BY user_id
	`

	var participants []models.SessionParticipant
	if err := r.db.SelectContext(ctx, &participants, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to find participants: %w", err)
	}

	return participants, nil
}

// RecordHeartbeat last_heartbeat 갱신 + CREATED -> IN_PROGRESS
// 참가자 행이 없으면 false
func (r *SessionRepository) RecordHeartbeat(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	found := false

	err := RunInTransaction(ctx, r.db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE session_participants
			SET last_heartbeat = $3
			WHERE session_id = $1 AND user_id = $2
		`, sessionID, userID, at)
		if err != nil {
			return fmt.Errorf("failed to update heartbeat: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		found = true

		_, err = tx.ExecContext(ctx, `
			UPDATE conversation_sessions
			SET status = $2
			WHERE id = $1 AND status = $3
		`, sessionID, models.SessionStatusInProgress, models.SessionStatusCreated)
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}

		return nil
	})

	return found, err
}

// BeginProcessing CREATED/IN_PROGRESS/ABANDONED 세션만 PROCESSING으로 전환
// 같은 트랜잭션에서 종료 시각, 길이, 전사, 참가자별 녹음 URL을 기록한다.
// 전환하지 못하면 현재 상태와 false를 반환한다.
func (r *SessionRepository) BeginProcessing(ctx context.Context, params service.BeginProcessingParams) (models.SessionStatus, bool, error) {
	var prev models.SessionStatus
	ok := false

	err := RunInTransaction(ctx, r.db.DB, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &prev, `
			SELECT status FROM conversation_sessions WHERE id = $1 FOR UPDATE
		`, params.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}

		switch prev {
		case models.SessionStatusCreated, models.SessionStatusInProgress, models.SessionStatusAbandoned:
		default:
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversation_sessions
			SET status = $2,
			    ended_at = $3,
			    duration = $4,
			    transcript = COALESCE(NULLIF($5, ''), transcript)
			WHERE id = $1
		`, params.SessionID, models.SessionStatusProcessing, params.EndedAt, params.Duration, params.Transcript)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		userIDs := make([]string, 0, len(params.AudioURLs))
		for userID := range params.AudioURLs {
			userIDs = append(userIDs, userID)
		}
		sort.Strings(userIDs)

		for _, userID := range userIDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE session_participants
				SET audio_url = $3
				WHERE session_id = $1 AND user_id = $2
			`, params.SessionID, userID, params.AudioURLs[userID])
			if err != nil {
				return fmt.Errorf("failed to attach audio url: %w", err)
			}
		}

		ok = true
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return prev, ok, nil
}

// RevertProcessing 작업 등록 실패 시 이전 상태로 되돌림
func (r *SessionRepository) RevertProcessing(ctx context.Context, sessionID string, prev models.SessionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_sessions
		SET status = $2, ended_at = NULL, duration = NULL
		WHERE id = $1 AND status = $3
	`, sessionID, prev, models.SessionStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to revert session status: %w", err)
	}
	return nil
}

// UpdateStatus 세션 상태 업데이트
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_sessions SET status = $2 WHERE id = $1
	`, sessionID, status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// MarkAbandoned 마지막 활동(시작 시각 또는 최신 heartbeat)이 cutoff 이전인 진행 중 세션을 ABANDONED로
func (r *SessionRepository) MarkAbandoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		UPDATE conversation_sessions s
		SET status = $1
		WHERE s.status IN ($2, $3)
		  AND GREATEST(
		        s.started_at,
		        COALESCE((SELECT MAX(p.last_heartbeat) FROM session_participants p WHERE p.session_id = s.id), s.started_at)
		      ) < $4
		RETURNING s.id
	`

	var ids []string
	err := r.db.SelectContext(ctx, &ids, query,
		models.SessionStatusAbandoned,
		models.SessionStatusCreated,
		models.SessionStatusInProgress,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark abandoned sessions: %w", err)
	}

	return ids, nil
}
