package models

import "time"

type SessionStatus string

const (
	SessionStatusCreated        SessionStatus = "CREATED"
	SessionStatusInProgress     SessionStatus = "IN_PROGRESS"
	SessionStatusProcessing     SessionStatus = "PROCESSING"
	SessionStatusCompleted      SessionStatus = "COMPLETED"
	SessionStatusAnalysisFailed SessionStatus = "ANALYSIS_FAILED"
	SessionStatusAbandoned      SessionStatus = "ABANDONED"
)

// IsFinalized end 호출이 더 이상 부수효과를 내지 않는 상태
func (s SessionStatus) IsFinalized() bool {
	switch s {
	case SessionStatusProcessing, SessionStatusCompleted, SessionStatusAnalysisFailed:
		return true
	}
	return false
}

type ConversationSession struct {
	ID                string        `json:"id" db:"id"`
	MatchID           *string       `json:"matchId,omitempty" db:"match_id"`
	Topic             string        `json:"topic" db:"topic"`
	Status            SessionStatus `json:"status" db:"status"`
	EstimatedDuration int           `json:"estimatedDuration" db:"estimated_duration"`
	Duration          *int          `json:"duration,omitempty" db:"duration"`
	Transcript        *string       `json:"-" db:"transcript"`
	StartedAt         time.Time     `json:"startedAt" db:"started_at"`
	EndedAt           *time.Time    `json:"endedAt,omitempty" db:"ended_at"`

	Participants []SessionParticipant `json:"participants,omitempty" db:"-"`
}

type SessionParticipant struct {
	ID            string     `json:"id" db:"id"`
	SessionID     string     `json:"sessionId" db:"session_id"`
	UserID        string     `json:"userId" db:"user_id"`
	AudioURL      *string    `json:"audioUrl,omitempty" db:"audio_url"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty" db:"last_heartbeat"`
}

// Mistake 분석 결과의 개별 실수 항목
type Mistake struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
}

// Analysis 참가자별 분석 결과
type Analysis struct {
	ID                 string    `json:"id" db:"id"`
	SessionID          string    `json:"sessionId" db:"session_id"`
	ParticipantID      string    `json:"participantId" db:"participant_id"`
	UserID             string    `json:"userId" db:"user_id"`
	Transcript         string    `json:"transcript" db:"transcript"`
	FluencyScore       float64   `json:"fluencyScore" db:"fluency_score"`
	GrammarScore       float64   `json:"grammarScore" db:"grammar_score"`
	PronunciationScore float64   `json:"pronunciationScore" db:"pronunciation_score"`
	VocabularyScore    float64   `json:"vocabularyScore" db:"vocabulary_score"`
	OverallScore       float64   `json:"overallScore" db:"overall_score"`
	CEFRLevel          string    `json:"cefrLevel" db:"cefr_level"`
	Mistakes           []Mistake `json:"mistakes" db:"-"`
	Feedback           string    `json:"feedback" db:"feedback"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
}

// ProcessingJob 세션 분석 작업 (JobQueue 안에서만 존재)
type ProcessingJob struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"sessionId"`
	AudioURLs      map[string]string `json:"audioUrls"`
	ParticipantIDs []string          `json:"participantIds"`
	Transcript     string            `json:"transcript,omitempty"`
	Attempt        int               `json:"attempt"`
	MaxAttempts    int               `json:"maxAttempts"`
	LastError      string            `json:"lastError,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type StartSessionRequest struct {
	MatchID           string   `json:"matchId"`
	Participants      []string `json:"participants" binding:"required,min=1,dive,required"`
	Topic             string   `json:"topic" binding:"required"`
	EstimatedDuration int      `json:"estimatedDuration" binding:"gte=0"`
}

type HeartbeatRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type EndSessionRequest struct {
	ActualDuration int               `json:"actualDuration" binding:"gte=0"`
	AudioURLs      map[string]string `json:"audioUrls"`
	Transcript     string            `json:"transcript"`
}

type EndSessionResult struct {
	Status    SessionStatus `json:"status"`
	SessionID string        `json:"sessionId"`
}
