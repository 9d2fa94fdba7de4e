package service

import (
	"context"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"go.uber.org/zap"
)

const (
	defaultTopic             = "free-talk"
	defaultEstimatedDuration = 600 // 초
)

// queueSlot 대기열 안의 한 자리 (사용자 + 실제로 들어가 있는 레벨)
type queueSlot struct {
	userID string
	level  string
}

// pairing 기본/구조화 매칭이 공유하는 경합 안전 제거와 커밋
type pairing struct {
	queue    WaitQueue
	sessions SessionStarter
	notifier MatchNotifier
	logger   *zap.Logger
	now      func() time.Time
}

// claim 두 자리를 한 개씩만 제거 (LREM 1)
// 두 폴러가 같은 쌍을 두고 경합해도 둘 다 지지 않도록 항상 userID 사전순으로 제거한다.
// 한쪽만 제거된 경우 되돌리고 errRaceLost를 반환한다.
func (p *pairing) claim(ctx context.Context, a, b queueSlot) error {
	first, second := a, b
	if second.userID < first.userID {
		first, second = second, first
	}

	n, err := p.queue.Remove(ctx, first.userID, first.level)
	if err != nil {
		return err
	}
	if n == 0 {
		return errRaceLost
	}

	n, err = p.queue.Remove(ctx, second.userID, second.level)
	if err == nil && n > 0 {
		return nil
	}

	if restoreErr := p.queue.Restore(ctx, first.userID, first.level); restoreErr != nil {
		p.logger.Error("Failed to restore queue entry after partial claim",
			zap.String("userId", first.userID),
			zap.String("level", first.level),
			zap.Error(restoreErr))
	}

	if err != nil {
		return err
	}
	return errRaceLost
}

// release claim으로 꺼낸 두 자리를 큐 앞쪽에 되돌림 (세션 생성 실패 시)
func (p *pairing) release(ctx context.Context, slots ...queueSlot) {
	for _, slot := range slots {
		if err := p.queue.Restore(ctx, slot.userID, slot.level); err != nil {
			p.logger.Error("Failed to restore queue entry after failed commit",
				zap.String("userId", slot.userID),
				zap.String("level", slot.level),
				zap.Error(err))
		}
	}
}

// commit 세션 생성, 상대 mailbox 기록, 호출자 메타 정리
func (p *pairing) commit(ctx context.Context, caller, partner queueSlot, topic string) (*models.ConversationSession, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = defaultTopic
	}

	session, err := p.sessions.Start(ctx, models.StartSessionRequest{
		Participants:      []string{caller.userID, partner.userID},
		Topic:             topic,
		EstimatedDuration: defaultEstimatedDuration,
	})
	if err != nil {
		p.release(context.WithoutCancel(ctx), caller, partner)
		return nil, err
	}

	// 여기부터는 세션이 이미 존재하므로 실패해도 되돌리지 않는다
	if err := p.queue.SetMatchResult(ctx, partner.userID, models.MatchResult{
		SessionID: session.ID,
		PartnerID: caller.userID,
		MatchedAt: p.now(),
	}); err != nil {
		p.logger.Error("Failed to write partner mailbox",
			zap.String("partnerId", partner.userID),
			zap.String("sessionId", session.ID),
			zap.Error(err))
	}

	if err := p.queue.DeleteMeta(ctx, caller.userID); err != nil {
		p.logger.Warn("Failed to delete caller meta",
			zap.String("userId", caller.userID),
			zap.Error(err))
	}

	if p.notifier != nil {
		p.notifier.NotifyMatch(ctx, partner.userID, caller.userID, session.ID)
	}

	return session, nil
}
