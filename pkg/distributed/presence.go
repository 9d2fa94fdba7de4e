package distributed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceKey 접속 상태 키 (online:<id>)
func PresenceKey(userID string) string {
	return fmt.Sprintf("online:%s", userID)
}

// RedisPresence TTL 기반 접속 상태 추적
// 클라이언트 활동(큐 참여, 상태 폴링, WebSocket 연결)마다 TTL이 갱신되고,
// 갱신이 끊기면 키가 만료되어 오프라인으로 간주된다.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence 접속 상태 추적기 생성
func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisPresence{client: client, ttl: ttl}
}

// SetOnline 온라인 표시 (TTL 갱신)
func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	if err := p.client.Set(ctx, PresenceKey(userID), "1", p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// SetOffline 오프라인 표시
func (p *RedisPresence) SetOffline(ctx context.Context, userID string) error {
	if err := p.client.Del(ctx, PresenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// IsOnline 현재 접속 중인지 확인
func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, PresenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}
