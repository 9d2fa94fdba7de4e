package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/database"
	"github.com/lib/pq"
)

// UserRepository 외부 사용자 저장소 읽기 전용 접근
// 사용자 생성/수정은 이 서비스의 책임이 아니다.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const profileColumns = `id, external_id, skill_level, reliability_score, tier, interests`

// FindProfile 외부 ID로 프로필 조회 (없으면 nil)
func (r *UserRepository) FindProfile(ctx context.Context, externalID string) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM users WHERE external_id = $1`

	profile := &models.UserProfile{}
	err := r.db.GetContext(ctx, profile, query, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user profile: %w", err)
	}

	return profile, nil
}

// FindProfiles 여러 외부 ID의 프로필 (외부 ID -> 프로필)
func (r *UserRepository) FindProfiles(ctx context.Context, externalIDs []string) (map[string]*models.UserProfile, error) {
	result := make(map[string]*models.UserProfile, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}

	query := `SELECT ` + profileColumns + ` FROM users WHERE external_id = ANY($1)`

	var profiles []models.UserProfile
	if err := r.db.SelectContext(ctx, &profiles, query, pq.Array(externalIDs)); err != nil {
		return nil, fmt.Errorf("failed to find user profiles: %w", err)
	}

	for i := range profiles {
		result[profiles[i].ExternalID] = &profiles[i]
	}
	return result, nil
}

// BlockedUserIDs 양방향 차단 목록 (내가 차단했거나 나를 차단한 사용자의 외부 ID)
func (r *UserRepository) BlockedUserIDs(ctx context.Context, externalID string) (map[string]bool, error) {
	query := `
		SELECT other.external_id
		FROM users me
		JOIN user_blocks b ON b.blocker_id = me.id OR b.blocked_id = me.id
		JOIN users other ON other.id = CASE WHEN b.blocker_id = me.id THEN b.blocked_id ELSE b.blocker_id END
		WHERE me.external_id = $1
	`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, externalID); err != nil {
		return nil, fmt.Errorf("failed to load block list: %w", err)
	}

	blocked := make(map[string]bool, len(ids))
	for _, id := range ids {
		blocked[id] = true
	}
	return blocked, nil
}

// ResolveInternalIDs 외부 ID -> 내부 uuid, 없는 사용자는 결과에서 빠진다
func (r *UserRepository) ResolveInternalIDs(ctx context.Context, externalIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}

	query := `SELECT external_id, id FROM users WHERE external_id = ANY($1)`

	var rows []struct {
		ExternalID string `db:"external_id"`
		ID         string `db:"id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(externalIDs)); err != nil {
		return nil, fmt.Errorf("failed to resolve user ids: %w", err)
	}

	for _, row := range rows {
		result[row.ExternalID] = row.ID
	}
	return result, nil
}
