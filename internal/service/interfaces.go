package service

import (
	"context"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
)

// WaitQueue 레벨별 대기열과 사용자 메타데이터 (pkg/distributed.RedisWaitQueue)
type WaitQueue interface {
	Join(ctx context.Context, entry models.QueueEntry) error
	Remove(ctx context.Context, userID, level string) (int64, error)
	Restore(ctx context.Context, userID, level string) error
	Members(ctx context.Context, level string) ([]string, error)
	Len(ctx context.Context, level string) (int64, error)
	Contains(ctx context.Context, userID, level string) (bool, error)
	GetMeta(ctx context.Context, userID string) (*models.UserMeta, error)
	SetMatchResult(ctx context.Context, userID string, result models.MatchResult) error
	DeleteMeta(ctx context.Context, userID string) error
	Evict(ctx context.Context, userID, level string) error
}

// PresenceTracker 접속 상태 (pkg/distributed.RedisPresence)
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// UserStore 외부 사용자 저장소 조회, 모든 인자는 외부 ID
type UserStore interface {
	FindProfile(ctx context.Context, externalID string) (*models.UserProfile, error)
	FindProfiles(ctx context.Context, externalIDs []string) (map[string]*models.UserProfile, error)
	BlockedUserIDs(ctx context.Context, externalID string) (map[string]bool, error)
	ResolveInternalIDs(ctx context.Context, externalIDs []string) (map[string]string, error)
}

// BeginProcessingParams end 요청으로 PROCESSING 전이 시 함께 기록할 값
type BeginProcessingParams struct {
	SessionID  string
	EndedAt    time.Time
	Duration   int
	AudioURLs  map[string]string // 내부 사용자 ID -> URL
	Transcript string
}

// SessionStore 세션/참가자 영속화 (repository.SessionRepository)
type SessionStore interface {
	CreateWithParticipants(ctx context.Context, session *models.ConversationSession, participants []models.SessionParticipant) error
	FindByID(ctx context.Context, id string) (*models.ConversationSession, error)
	FindParticipants(ctx context.Context, sessionID string) ([]models.SessionParticipant, error)
	RecordHeartbeat(ctx context.Context, sessionID, userID string, at time.Time) (bool, error)
	BeginProcessing(ctx context.Context, params BeginProcessingParams) (prev models.SessionStatus, ok bool, err error)
	RevertProcessing(ctx context.Context, sessionID string, prev models.SessionStatus) error
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	MarkAbandoned(ctx context.Context, cutoff time.Time) ([]string, error)
}

// AnalysisStore 분석 결과 저장 (세션/참가자 단위 upsert)
type AnalysisStore interface {
	Upsert(ctx context.Context, analysis *models.Analysis) error
}

// JobQueue 분석 작업 등록
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.ProcessingJob) (bool, error)
}

// JobConsumer 워커가 사용하는 큐 연산 (pkg/distributed.RedisJobQueue)
type JobConsumer interface {
	Dequeue(ctx context.Context) (*models.ProcessingJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, job *models.ProcessingJob, cause error) (bool, error)
	DeadLetter(ctx context.Context, job *models.ProcessingJob, reason string) error
	RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error)
}

// AudioTranscriber 녹음 하나의 전사
type AudioTranscriber interface {
	Transcribe(ctx context.Context, req models.TranscriptionRequest) (*models.Transcription, error)
}

// AudioAnalyzer 전사를 기준 텍스트로 한 녹음 하나의 발음/유창성 점수
type AudioAnalyzer interface {
	AnalyzeAudio(ctx context.Context, req models.AudioAnalysisRequest) (*models.AudioAnalysis, error)
}

// FeedbackComposer 참가자 한 명의 실수/점수 종합
type FeedbackComposer interface {
	ComposeFeedback(ctx context.Context, req models.FeedbackRequest) (*models.Feedback, error)
}

// MatchNotifier 매칭 성사 푸시 알림 (best-effort, mailbox가 원본)
type MatchNotifier interface {
	NotifyMatch(ctx context.Context, userID, partnerID, sessionID string)
}

// SessionStarter 매칭 성사 시 세션 생성
type SessionStarter interface {
	Start(ctx context.Context, req models.StartSessionRequest) (*models.ConversationSession, error)
}

// Locker 인스턴스 간 단일 실행 보장 (pkg/distributed.RedisLockManager)
type Locker interface {
	RunExclusive(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}
