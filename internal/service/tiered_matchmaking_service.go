package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/metrics"
	"go.uber.org/zap"
)

// TieredMatchmakingService 구조화 연습용 점수 기반 매칭
// 45초 동안 1초마다 후보를 다시 평가하며, 경과 시간에 따라 등급 조건을 완화한다.
type TieredMatchmakingService struct {
	pairing
	presence PresenceTracker
	users    UserStore
	window   time.Duration
	poll     time.Duration
	wait     func(ctx context.Context, d time.Duration) error
}

func NewTieredMatchmakingService(
	queue WaitQueue,
	presence PresenceTracker,
	users UserStore,
	sessions SessionStarter,
	notifier MatchNotifier,
	window, poll time.Duration,
	logger *zap.Logger,
) *TieredMatchmakingService {
	if window <= 0 {
		window = 45 * time.Second
	}
	if poll <= 0 {
		poll = time.Second
	}

	return &TieredMatchmakingService{
		pairing: pairing{
			queue:    queue,
			sessions: sessions,
			notifier: notifier,
			logger:   logger,
			now:      time.Now,
		},
		presence: presence,
		users:    users,
		window:   window,
		poll:     poll,
		wait:     sleepContext,
	}
}

// SetClock 테스트용 시계와 대기 함수 주입
func (s *TieredMatchmakingService) SetClock(now func() time.Time, wait func(ctx context.Context, d time.Duration) error) {
	s.now = now
	if wait != nil {
		s.wait = wait
	}
}

// scoredCandidate 점수가 매겨진 후보
type scoredCandidate struct {
	slot     queueSlot
	score    float64
	joinedAt time.Time
}

// better 점수 내림차순, 동점이면 먼저 들어온 사람, 그다음 userID 사전순
func (c scoredCandidate) better(o scoredCandidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if !c.joinedAt.Equal(o.joinedAt) {
		return c.joinedAt.Before(o.joinedAt)
	}
	return c.slot.userID < o.slot.userID
}

// FindMatch 블로킹 탐색, ctx가 취소되면 대기열에서 빠지고 ctx 에러를 반환
// 시간 안에 상대가 없으면 Matched=false (호출자는 AI 파트너로 전환)
func (s *TieredMatchmakingService) FindMatch(ctx context.Context, userID, structure string) (*models.StructuredMatchResult, error) {
	userID = strings.TrimSpace(userID)
	structure = strings.TrimSpace(structure)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if structure == "" || len(structure) > 64 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStructure, structure)
	}

	profile, err := s.users.FindProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrUserNotFound
	}
	level, err := normalizeLevel(profile.SkillLevel)
	if err != nil {
		return nil, err
	}

	start := s.now()
	if err := s.queue.Join(ctx, models.QueueEntry{
		UserID:     userID,
		SkillLevel: level,
		Topic:      structure,
		JoinedAt:   start,
	}); err != nil {
		return nil, fmt.Errorf("failed to join queue: %w", err)
	}
	s.touchPresence(ctx, userID)

	self := queueSlot{userID: userID, level: level}

	s.logger.Info("Structured search started",
		zap.String("userId", userID),
		zap.String("level", level),
		zap.String("structure", structure))

	for {
		elapsed := s.now().Sub(start)
		if elapsed >= s.window {
			if pending := s.leave(context.WithoutCancel(ctx), self); pending != nil {
				return &models.StructuredMatchResult{
					Matched:   true,
					PartnerID: pending.PartnerID,
					SessionID: pending.SessionID,
				}, nil
			}
			metrics.MatchTimeoutsTotal.WithLabelValues("structured").Inc()
			s.logger.Info("Structured search timed out", zap.String("userId", userID))
			return &models.StructuredMatchResult{Matched: false}, nil
		}

		result, done, err := s.round(ctx, profile, self, structure, elapsed)
		if err != nil {
			s.leave(context.WithoutCancel(ctx), self)
			return nil, err
		}
		if done {
			if result.Matched {
				metrics.MatchesTotal.WithLabelValues("structured").Inc()
				metrics.MatchWaitSeconds.WithLabelValues("structured").Observe(s.now().Sub(start).Seconds())
			}
			return result, nil
		}

		if err := s.wait(ctx, s.poll); err != nil {
			s.leave(context.WithoutCancel(ctx), self)
			s.logger.Info("Structured search cancelled", zap.String("userId", userID))
			return nil, err
		}
	}
}

// round 한 번의 평가, done=false면 다음 폴링까지 대기
func (s *TieredMatchmakingService) round(
	ctx context.Context,
	profile *models.UserProfile,
	self queueSlot,
	structure string,
	elapsed time.Duration,
) (*models.StructuredMatchResult, bool, error) {
	meta, err := s.queue.GetMeta(ctx, self.userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get user meta: %w", err)
	}
	if meta == nil {
		// 다른 경로(Leave 등)로 대기열에서 빠짐
		return &models.StructuredMatchResult{Matched: false}, true, nil
	}
	if meta.MatchResult != nil {
		if err := s.queue.DeleteMeta(ctx, self.userID); err != nil {
			s.logger.Warn("Failed to delete consumed meta", zap.String("userId", self.userID), zap.Error(err))
		}
		return &models.StructuredMatchResult{
			Matched:   true,
			PartnerID: meta.MatchResult.PartnerID,
			SessionID: meta.MatchResult.SessionID,
		}, true, nil
	}

	criteria := BuildCriteria(profile, elapsed)
	best, err := s.bestCandidate(ctx, self, profile, criteria)
	if err != nil {
		return nil, false, err
	}
	if best == nil {
		return nil, false, nil
	}

	if err := s.claim(ctx, self, best.slot); err != nil {
		if errors.Is(err, errRaceLost) {
			metrics.RaceLossesTotal.Inc()
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to claim pair: %w", err)
	}

	session, err := s.commit(ctx, self, best.slot, structure)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Structured match created",
		zap.String("sessionId", session.ID),
		zap.String("userId", self.userID),
		zap.String("partnerId", best.slot.userID),
		zap.String("phase", string(criteria.Phase)),
		zap.Float64("score", best.score))

	return &models.StructuredMatchResult{
		Matched:   true,
		PartnerID: best.slot.userID,
		SessionID: session.ID,
		Score:     best.score,
	}, true, nil
}

// bestCandidate 인접 레벨까지 포함한 후보 풀에서 최고 점수 후보
func (s *TieredMatchmakingService) bestCandidate(
	ctx context.Context,
	self queueSlot,
	requester *models.UserProfile,
	criteria models.MatchCriteria,
) (*scoredCandidate, error) {
	blocked, err := s.users.BlockedUserIDs(ctx, self.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load block list: %w", err)
	}

	var pool []queueSlot
	seen := map[string]bool{self.userID: true}
	for _, level := range criteria.SkillLevels {
		members, err := s.queue.Members(ctx, level)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if seen[id] || blocked[id] {
				continue
			}
			seen[id] = true
			pool = append(pool, queueSlot{userID: id, level: level})
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pool))
	for i, slot := range pool {
		ids[i] = slot.userID
	}
	profiles, err := s.users.FindProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate profiles: %w", err)
	}

	var scored []scoredCandidate
	for _, slot := range pool {
		candidate := profiles[slot.userID]
		if candidate == nil || !Eligible(criteria, candidate) {
			continue
		}

		online, err := s.presence.IsOnline(ctx, slot.userID)
		if err != nil {
			return nil, err
		}
		if !online {
			if err := s.queue.Evict(ctx, slot.userID, slot.level); err == nil {
				metrics.GhostEvictionsTotal.Inc()
			}
			continue
		}

		meta, err := s.queue.GetMeta(ctx, slot.userID)
		if err != nil {
			return nil, err
		}
		if meta == nil || meta.MatchResult != nil {
			continue
		}
		// 메타에 기록된 레벨이 실제 위치
		if meta.SkillLevel != "" {
			slot.level = meta.SkillLevel
		}

		scored = append(scored, scoredCandidate{
			slot:     slot,
			score:    ScoreCandidate(criteria, requester, candidate),
			joinedAt: meta.JoinedAt,
		})
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].better(scored[j]) })
	return &scored[0], nil
}

// leave 탐색 종료 시 대기열 정리
// 마지막 순간에 상대가 mailbox를 썼다면 그 결과를 소비해서 반환한다.
func (s *TieredMatchmakingService) leave(ctx context.Context, self queueSlot) *models.MatchResult {
	if _, err := s.queue.Remove(ctx, self.userID, self.level); err != nil {
		s.logger.Warn("Failed to remove structured search entry", zap.String("userId", self.userID), zap.Error(err))
	}

	var pending *models.MatchResult
	if meta, err := s.queue.GetMeta(ctx, self.userID); err == nil && meta != nil {
		pending = meta.MatchResult
	}

	if err := s.queue.DeleteMeta(ctx, self.userID); err != nil {
		s.logger.Warn("Failed to delete structured search meta", zap.String("userId", self.userID), zap.Error(err))
	}
	return pending
}

func (s *TieredMatchmakingService) touchPresence(ctx context.Context, userID string) {
	if err := s.presence.SetOnline(ctx, userID); err != nil {
		s.logger.Warn("Failed to refresh presence", zap.String("userId", userID), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
