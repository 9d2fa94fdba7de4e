package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const matchEventChannel = "matchmaking:events"

// MatchEvent 인스턴스 간 매칭 알림 이벤트
type MatchEvent struct {
	Type      string    `json:"type"` // "match_found"
	UserID    string    `json:"userId"`
	PartnerID string    `json:"partnerId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// MatchEventBus Redis Pub/Sub 기반 매칭 이벤트 전파
// 매칭을 성사시킨 인스턴스와 상대방의 WebSocket이 연결된 인스턴스가 다를 수 있으므로
// 모든 인스턴스에 이벤트를 뿌리고 각자 로컬 연결에만 전달한다.
// mailbox가 여전히 결과의 원본이며 이 경로는 알림 용도일 뿐이다.
type MatchEventBus struct {
	client  *redis.Client
	logger  *zap.Logger
	channel string
}

// NewMatchEventBus 이벤트 버스 생성
func NewMatchEventBus(client *redis.Client, logger *zap.Logger) *MatchEventBus {
	return &MatchEventBus{
		client:  client,
		logger:  logger,
		channel: matchEventChannel,
	}
}

// Publish 매칭 이벤트 발행
func (b *MatchEventBus) Publish(ctx context.Context, event MatchEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Published match event",
		zap.String("type", event.Type),
		zap.String("userId", event.UserID),
		zap.String("sessionId", event.SessionID))

	return nil
}

// Subscribe ctx가 끝날 때까지 이벤트를 수신해 handler 호출
func (b *MatchEventBus) Subscribe(ctx context.Context, handler func(event MatchEvent)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.logger.Info("Match event subscriber started", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event MatchEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("Failed to unmarshal match event", zap.Error(err))
				continue
			}

			handler(event)

		case <-ctx.Done():
			b.logger.Info("Match event subscriber stopped")
			return nil
		}
	}
}

// NotifyMatch 매칭 성사를 발행 (실패는 로그만, mailbox가 원본)
func (b *MatchEventBus) NotifyMatch(ctx context.Context, userID, partnerID, sessionID string) {
	if err := b.Publish(ctx, MatchEvent{
		Type:      "match_found",
		UserID:    userID,
		PartnerID: partnerID,
		SessionID: sessionID,
	}); err != nil {
		b.logger.Warn("Failed to publish match event",
			zap.String("userId", userID),
			zap.String("sessionId", sessionID),
			zap.Error(err))
	}
}
