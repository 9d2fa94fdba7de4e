package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/metrics"
	"go.uber.org/zap"
)

const (
	MessageNoPartner  = "No partner found yet. Try again?"
	MessageNotInQueue = "Not in queue. Join to start searching."

	// claimGrace 큐에서 빠졌지만 mailbox가 아직 없는 상태를 기다려 주는 시간
	claimGrace = 10 * time.Second
)

// MatchmakingService 레벨별 FIFO 매칭 (클라이언트 폴링 방식)
type MatchmakingService struct {
	pairing
	presence PresenceTracker
	users    UserStore
	timeout  time.Duration
}

func NewMatchmakingService(
	queue WaitQueue,
	presence PresenceTracker,
	users UserStore,
	sessions SessionStarter,
	notifier MatchNotifier,
	timeout time.Duration,
	logger *zap.Logger,
) *MatchmakingService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &MatchmakingService{
		pairing: pairing{
			queue:    queue,
			sessions: sessions,
			notifier: notifier,
			logger:   logger,
			now:      time.Now,
		},
		presence: presence,
		users:    users,
		timeout:  timeout,
	}
}

// SetClock 테스트용 시계 주입
func (s *MatchmakingService) SetClock(now func() time.Time) {
	s.now = now
}

// Join 대기열 참여 (재참여 시 메타데이터 덮어씀)
func (s *MatchmakingService) Join(ctx context.Context, userID, level, topic string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	level, err := normalizeLevel(level)
	if err != nil {
		return err
	}

	if err := s.queue.Join(ctx, models.QueueEntry{
		UserID:     userID,
		SkillLevel: level,
		Topic:      strings.TrimSpace(topic),
		JoinedAt:   s.now(),
	}); err != nil {
		return fmt.Errorf("failed to join queue: %w", err)
	}

	s.touchPresence(ctx, userID)
	metrics.QueueJoinsTotal.WithLabelValues(level).Inc()

	s.logger.Info("User joined queue",
		zap.String("userId", userID),
		zap.String("level", level))

	return nil
}

// Leave 대기 취소
func (s *MatchmakingService) Leave(ctx context.Context, userID, level string) error {
	level, err := normalizeLevel(level)
	if err != nil {
		return err
	}

	meta, err := s.queue.GetMeta(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user meta: %w", err)
	}
	if meta != nil && meta.SkillLevel != "" {
		level = meta.SkillLevel
	}

	if _, err := s.queue.Remove(ctx, userID, level); err != nil {
		return fmt.Errorf("failed to leave queue: %w", err)
	}
	if err := s.queue.DeleteMeta(ctx, userID); err != nil {
		return fmt.Errorf("failed to leave queue: %w", err)
	}

	s.logger.Info("User left queue", zap.String("userId", userID), zap.String("level", level))
	return nil
}

// CheckMatch 한 번의 논블로킹 매칭 시도
//  1. mailbox에 결과가 있으면 소비해서 반환
//  2. 대기 시간 초과면 큐에서 빼고 "no partner"
//  3. FIFO 순서로 첫 번째 유효 상대(본인 아님, 차단 아님, 온라인) 탐색
//  4. 양쪽을 하나씩 제거, 둘 다 성공하면 세션 생성
func (s *MatchmakingService) CheckMatch(ctx context.Context, userID, level string) (*models.CheckMatchResult, error) {
	level, err := normalizeLevel(level)
	if err != nil {
		return nil, err
	}

	s.touchPresence(ctx, userID)

	meta, err := s.queue.GetMeta(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user meta: %w", err)
	}
	if meta == nil {
		return &models.CheckMatchResult{Matched: false, Message: MessageNotInQueue}, nil
	}

	if meta.MatchResult != nil {
		return s.consumeMailbox(ctx, userID, meta.MatchResult), nil
	}

	if meta.SkillLevel != "" {
		level = meta.SkillLevel
	}
	self := queueSlot{userID: userID, level: level}
	waiting := &models.CheckMatchResult{Matched: false}

	if !meta.JoinedAt.IsZero() && s.now().Sub(meta.JoinedAt) > s.timeout {
		return s.expire(ctx, self, meta.JoinedAt)
	}

	size, err := s.queue.Len(ctx, level)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue length: %w", err)
	}
	if size < 2 {
		return waiting, nil
	}

	// 상대가 막 우리를 가져갔다면 mailbox가 곧 채워진다
	inQueue, err := s.queue.Contains(ctx, userID, level)
	if err != nil {
		return nil, err
	}
	if !inQueue {
		return waiting, nil
	}

	partnerID, err := s.findPartner(ctx, userID, level)
	if err != nil {
		return nil, err
	}
	if partnerID == "" {
		return waiting, nil
	}

	partner := queueSlot{userID: partnerID, level: level}
	if err := s.claim(ctx, self, partner); err != nil {
		if errors.Is(err, errRaceLost) {
			metrics.RaceLossesTotal.Inc()
			s.logger.Debug("Pairing race lost",
				zap.String("userId", userID),
				zap.String("partnerId", partnerID))
			return waiting, nil
		}
		return nil, fmt.Errorf("failed to claim pair: %w", err)
	}

	session, err := s.commit(ctx, self, partner, meta.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("basic").Inc()
	if !meta.JoinedAt.IsZero() {
		metrics.MatchWaitSeconds.WithLabelValues("basic").Observe(s.now().Sub(meta.JoinedAt).Seconds())
	}

	s.logger.Info("Match created",
		zap.String("sessionId", session.ID),
		zap.String("userId", userID),
		zap.String("partnerId", partnerID),
		zap.String("level", level))

	return &models.CheckMatchResult{
		Matched:   true,
		SessionID: session.ID,
		PartnerID: partnerID,
	}, nil
}

// expire 대기 시간 초과 처리
// 큐에서 빠지지 않았다면(n == 0) 상대가 방금 우리를 가져간 것이므로 mailbox를 지우지 않는다.
func (s *MatchmakingService) expire(ctx context.Context, self queueSlot, joinedAt time.Time) (*models.CheckMatchResult, error) {
	n, err := s.queue.Remove(ctx, self.userID, self.level)
	if err != nil {
		return nil, fmt.Errorf("failed to remove timed out entry: %w", err)
	}

	if n == 0 {
		meta, err := s.queue.GetMeta(ctx, self.userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get user meta: %w", err)
		}
		if meta == nil {
			return &models.CheckMatchResult{Matched: false, Message: MessageNotInQueue}, nil
		}
		if meta.MatchResult != nil {
			return s.consumeMailbox(ctx, self.userID, meta.MatchResult), nil
		}
		// 상대의 commit이 진행 중이면 다음 폴링에서 mailbox가 보인다
		if s.now().Sub(joinedAt) <= s.timeout+claimGrace {
			return &models.CheckMatchResult{Matched: false}, nil
		}
		s.logger.Warn("Dropping orphaned queue meta", zap.String("userId", self.userID))
	}

	if err := s.queue.DeleteMeta(ctx, self.userID); err != nil {
		return nil, fmt.Errorf("failed to delete timed out meta: %w", err)
	}
	metrics.MatchTimeoutsTotal.WithLabelValues("basic").Inc()
	return &models.CheckMatchResult{Matched: false, Message: MessageNoPartner}, nil
}

// consumeMailbox mailbox 결과를 반환하고 메타 삭제
func (s *MatchmakingService) consumeMailbox(ctx context.Context, userID string, result *models.MatchResult) *models.CheckMatchResult {
	if err := s.queue.DeleteMeta(ctx, userID); err != nil {
		s.logger.Warn("Failed to delete consumed meta", zap.String("userId", userID), zap.Error(err))
	}
	return &models.CheckMatchResult{
		Matched:   true,
		SessionID: result.SessionID,
		PartnerID: result.PartnerID,
	}
}

// findPartner FIFO 순서로 첫 번째 유효 상대, 오프라인 항목은 발견 즉시 정리
func (s *MatchmakingService) findPartner(ctx context.Context, userID, level string) (string, error) {
	blocked, err := s.users.BlockedUserIDs(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load block list: %w", err)
	}

	members, err := s.queue.Members(ctx, level)
	if err != nil {
		return "", err
	}

	for _, candidate := range members {
		if candidate == userID || blocked[candidate] {
			continue
		}

		online, err := s.presence.IsOnline(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !online {
			s.evictGhost(ctx, candidate, level)
			continue
		}

		return candidate, nil
	}

	return "", nil
}

func (s *MatchmakingService) evictGhost(ctx context.Context, userID, level string) {
	if err := s.queue.Evict(ctx, userID, level); err != nil {
		s.logger.Warn("Failed to evict ghost entry", zap.String("userId", userID), zap.Error(err))
		return
	}
	metrics.GhostEvictionsTotal.Inc()
	s.logger.Debug("Evicted ghost entry", zap.String("userId", userID), zap.String("level", level))
}

func (s *MatchmakingService) touchPresence(ctx context.Context, userID string) {
	if err := s.presence.SetOnline(ctx, userID); err != nil {
		s.logger.Warn("Failed to refresh presence", zap.String("userId", userID), zap.Error(err))
	}
}

func normalizeLevel(level string) (string, error) {
	level = strings.ToUpper(strings.TrimSpace(level))
	if !models.IsValidSkillLevel(level) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSkillLevel, level)
	}
	return level, nil
}
