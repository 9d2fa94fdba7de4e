package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	metaFieldJoinedAt    = "joinedAt"
	metaFieldLevel       = "level"
	metaFieldTopic       = "topic"
	metaFieldMatchResult = "matchResult"
)

// QueueKey 레벨별 대기열 키 (queue:<level>)
func QueueKey(level string) string {
	return fmt.Sprintf("queue:%s", level)
}

// MetaKey 사용자 메타데이터 키 (user:<id>:meta)
func MetaKey(userID string) string {
	return fmt.Sprintf("user:%s:meta", userID)
}

// RedisWaitQueue Redis List 기반 레벨별 FIFO 대기열
// 모든 변경은 단일 키 원자 연산이며, 여러 키를 건드리는 경우 MULTI/EXEC로 묶는다.
type RedisWaitQueue struct {
	client *redis.Client
}

// NewRedisWaitQueue 대기열 생성
func NewRedisWaitQueue(client *redis.Client) *RedisWaitQueue {
	return &RedisWaitQueue{client: client}
}

// Join 대기열에 추가하고 메타데이터 기록
// 재참여 시 이전 레벨 큐의 항목을 먼저 제거하므로 사용자는 항상 최대 하나의 큐에만 존재한다.
func (q *RedisWaitQueue) Join(ctx context.Context, entry models.QueueEntry) error {
	prevLevel, err := q.client.HGet(ctx, MetaKey(entry.UserID), metaFieldLevel).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read previous level: %w", err)
	}

	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = time.Now()
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prevLevel != "" && prevLevel != entry.SkillLevel {
			pipe.LRem(ctx, QueueKey(prevLevel), 0, entry.UserID)
		}
		pipe.LRem(ctx, QueueKey(entry.SkillLevel), 0, entry.UserID)
		pipe.RPush(ctx, QueueKey(entry.SkillLevel), entry.UserID)
		pipe.Del(ctx, MetaKey(entry.UserID))
		pipe.HSet(ctx, MetaKey(entry.UserID),
			metaFieldJoinedAt, strconv.FormatInt(entry.JoinedAt.UnixMilli(), 10),
			metaFieldLevel, entry.SkillLevel,
			metaFieldTopic, entry.Topic,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to join queue: %w", err)
	}

	return nil
}

// Remove 첫 번째 항목 하나만 제거 (LREM count=1), 제거된 개수 반환
func (q *RedisWaitQueue) Remove(ctx context.Context, userID, level string) (int64, error) {
	n, err := q.client.LRem(ctx, QueueKey(level), 1, userID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to remove from queue: %w", err)
	}
	return n, nil
}

// Restore 경합에서 진 쪽이 꺼낸 항목을 큐 앞쪽에 되돌림
func (q *RedisWaitQueue) Restore(ctx context.Context, userID, level string) error {
	if err := q.client.LPush(ctx, QueueKey(level), userID).Err(); err != nil {
		return fmt.Errorf("failed to restore queue entry: %w", err)
	}
	return nil
}

// Members FIFO 순서의 대기자 목록
func (q *RedisWaitQueue) Members(ctx context.Context, level string) ([]string, error) {
	members, err := q.client.LRange(ctx, QueueKey(level), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return members, nil
}

// Len 대기열 길이
func (q *RedisWaitQueue) Len(ctx context.Context, level string) (int64, error) {
	return q.client.LLen(ctx, QueueKey(level)).Result()
}

// Contains 대기열에 사용자가 있는지 확인
func (q *RedisWaitQueue) Contains(ctx context.Context, userID, level string) (bool, error) {
	_, err := q.client.LPos(ctx, QueueKey(level), userID, redis.LPosArgs{}).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check queue membership: %w", err)
	}
	return true, nil
}

// GetMeta 사용자 메타데이터 조회 (없으면 nil)
func (q *RedisWaitQueue) GetMeta(ctx context.Context, userID string) (*models.UserMeta, error) {
	fields, err := q.client.HGetAll(ctx, MetaKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user meta: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	meta := &models.UserMeta{
		SkillLevel: fields[metaFieldLevel],
		Topic:      fields[metaFieldTopic],
	}

	if raw := fields[metaFieldJoinedAt]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid joinedAt %q: %w", raw, err)
		}
		meta.JoinedAt = time.UnixMilli(ms)
	}

	if raw := fields[metaFieldMatchResult]; raw != "" {
		var result models.MatchResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal match result: %w", err)
		}
		meta.MatchResult = &result
	}

	return meta, nil
}

// SetMatchResult 상대방의 mailbox에 매칭 결과 기록
func (q *RedisWaitQueue) SetMatchResult(ctx context.Context, userID string, result models.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal match result: %w", err)
	}

	if err := q.client.HSet(ctx, MetaKey(userID), metaFieldMatchResult, data).Err(); err != nil {
		return fmt.Errorf("failed to write match result: %w", err)
	}
	return nil
}

// DeleteMeta 메타데이터 삭제
func (q *RedisWaitQueue) DeleteMeta(ctx context.Context, userID string) error {
	if err := q.client.Del(ctx, MetaKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete user meta: %w", err)
	}
	return nil
}

// Evict 유령 항목 정리: 큐 항목 하나와 메타데이터 삭제
func (q *RedisWaitQueue) Evict(ctx context.Context, userID, level string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, QueueKey(level), 1, userID)
		pipe.Del(ctx, MetaKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to evict queue entry: %w", err)
	}
	return nil
}
