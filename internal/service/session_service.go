package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService 대화 세션 생명주기
//
//	CREATED -> IN_PROGRESS -> PROCESSING -> COMPLETED | ANALYSIS_FAILED
//	CREATED/IN_PROGRESS -> ABANDONED (AbandonSweeper)
type SessionService struct {
	sessions SessionStore
	users    UserStore
	jobs     JobQueue
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(sessions SessionStore, users UserStore, jobs JobQueue, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		users:    users,
		jobs:     jobs,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// Start 세션 생성 (CREATED), 세션과 참가자 행은 한 트랜잭션으로 기록
func (s *SessionService) Start(ctx context.Context, req models.StartSessionRequest) (*models.ConversationSession, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if len(req.Participants) == 0 {
		return nil, fmt.Errorf("%w: at least one participant is required", ErrInvalidInput)
	}
	if req.EstimatedDuration < 0 {
		return nil, fmt.Errorf("%w: estimatedDuration must be >= 0", ErrInvalidInput)
	}

	externalIDs := make([]string, 0, len(req.Participants))
	seen := make(map[string]bool, len(req.Participants))
	for _, p := range req.Participants {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty participant id", ErrInvalidInput)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, p)
		}
		seen[p] = true
		externalIDs = append(externalIDs, p)
	}

	internalIDs, err := s.users.ResolveInternalIDs(ctx, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve participants: %w", err)
	}

	session := &models.ConversationSession{
		ID:                uuid.New().String(),
		Topic:             topic,
		Status:            models.SessionStatusCreated,
		EstimatedDuration: req.EstimatedDuration,
		StartedAt:         s.now(),
	}
	if matchID := strings.TrimSpace(req.MatchID); matchID != "" {
		session.MatchID = &matchID
	}

	participants := make([]models.SessionParticipant, 0, len(externalIDs))
	for _, externalID := range externalIDs {
		internalID, ok := internalIDs[externalID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, externalID)
		}
		participants = append(participants, models.SessionParticipant{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			UserID:    internalID,
		})
	}

	if err := s.sessions.CreateWithParticipants(ctx, session, participants); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	session.Participants = participants

	metrics.SessionsStartedTotal.Inc()
	s.logger.Info("Session created",
		zap.String("sessionId", session.ID),
		zap.String("topic", topic),
		zap.Int("participants", len(participants)))

	return session, nil
}

// Get 세션과 참가자 조회
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.ConversationSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	participants, err := s.sessions.FindParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	session.Participants = participants

	return session, nil
}

// Heartbeat 참가자 last_heartbeat 갱신, 첫 heartbeat에서 CREATED -> IN_PROGRESS
// 중복/순서 뒤바뀐 호출에도 안전하다.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID, userID string) error {
	internalID, err := s.resolveOne(ctx, userID)
	if err != nil {
		return err
	}
	if internalID == "" {
		return ErrParticipantNotFound
	}

	found, err := s.sessions.RecordHeartbeat(ctx, sessionID, internalID, s.now())
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if !found {
		return ErrParticipantNotFound
	}

	return nil
}

// End 세션 종료 (멱등)
// PROCESSING/COMPLETED/ANALYSIS_FAILED 상태면 부수효과 없이 현재 상태를 반환한다.
// 그 외에는 한 번의 조건부 UPDATE로 PROCESSING 전이와 녹음 URL/전사를 기록하고 분석 작업을 등록한다.
func (s *SessionService) End(ctx context.Context, sessionID string, req models.EndSessionRequest) (*models.EndSessionResult, error) {
	if req.ActualDuration < 0 {
		return nil, fmt.Errorf("%w: actualDuration must be >= 0", ErrInvalidInput)
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status.IsFinalized() {
		return &models.EndSessionResult{Status: session.Status, SessionID: sessionID}, nil
	}

	audioURLs, err := s.resolveAudioURLs(ctx, req.AudioURLs)
	if err != nil {
		return nil, err
	}

	prev, ok, err := s.sessions.BeginProcessing(ctx, BeginProcessingParams{
		SessionID:  sessionID,
		EndedAt:    s.now(),
		Duration:   req.ActualDuration,
		AudioURLs:  audioURLs,
		Transcript: req.Transcript,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	if !ok {
		// 동시 end 호출이 먼저 전이시킴
		return &models.EndSessionResult{Status: prev, SessionID: sessionID}, nil
	}

	participants, err := s.sessions.FindParticipants(ctx, sessionID)
	if err != nil {
		s.revert(ctx, sessionID, prev)
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}

	job := &models.ProcessingJob{
		ID:             sessionID,
		SessionID:      sessionID,
		AudioURLs:      audioURLs,
		ParticipantIDs: make([]string, 0, len(participants)),
		Transcript:     req.Transcript,
	}
	for _, p := range participants {
		job.ParticipantIDs = append(job.ParticipantIDs, p.ID)
	}

	added, err := s.jobs.Enqueue(ctx, job)
	if err != nil {
		s.revert(ctx, sessionID, prev)
		return nil, fmt.Errorf("failed to enqueue analysis: %w", err)
	}
	if added {
		metrics.JobsEnqueuedTotal.Inc()
	}

	s.logger.Info("Session ended",
		zap.String("sessionId", sessionID),
		zap.String("previousStatus", string(prev)),
		zap.Int("duration", req.ActualDuration),
		zap.Bool("jobEnqueued", added))

	return &models.EndSessionResult{Status: models.SessionStatusProcessing, SessionID: sessionID}, nil
}

// revert 작업 등록 실패 시 클라이언트가 다시 end를 호출할 수 있도록 이전 상태로 복구
func (s *SessionService) revert(ctx context.Context, sessionID string, prev models.SessionStatus) {
	if err := s.sessions.RevertProcessing(context.WithoutCancel(ctx), sessionID, prev); err != nil {
		s.logger.Error("Failed to revert session status",
			zap.String("sessionId", sessionID),
			zap.String("status", string(prev)),
			zap.Error(err))
	}
}

// resolveAudioURLs 외부 ID 키를 내부 ID로 변환, 모르는 사용자는 무시
func (s *SessionService) resolveAudioURLs(ctx context.Context, byExternal map[string]string) (map[string]string, error) {
	if len(byExternal) == 0 {
		return map[string]string{}, nil
	}

	keys := make([]string, 0, len(byExternal))
	for k := range byExternal {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ids, err := s.users.ResolveInternalIDs(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve audio owners: %w", err)
	}

	resolved := make(map[string]string, len(byExternal))
	for _, k := range keys {
		url := strings.TrimSpace(byExternal[k])
		if url == "" {
			continue
		}
		internalID, ok := ids[k]
		if !ok {
			s.logger.Warn("Ignoring audio URL for unknown user", zap.String("userId", k))
			continue
		}
		resolved[internalID] = url
	}
	return resolved, nil
}

func (s *SessionService) resolveOne(ctx context.Context, externalID string) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	ids, err := s.users.ResolveInternalIDs(ctx, []string{externalID})
	if err != nil {
		return "", fmt.Errorf("failed to resolve user: %w", err)
	}
	return ids[externalID], nil
}
