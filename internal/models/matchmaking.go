package models

import (
	"strings"
	"time"
)

// SkillLevels CEFR 순서 (인접 레벨 계산에 사용)
var SkillLevels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

// IsValidSkillLevel 알려진 CEFR 레벨인지 확인
func IsValidSkillLevel(level string) bool {
	return SkillLevelIndex(level) >= 0
}

// SkillLevelIndex 레벨의 순서 인덱스 (모르는 레벨이면 -1)
func SkillLevelIndex(level string) int {
	level = strings.ToUpper(strings.TrimSpace(level))
	for i, l := range SkillLevels {
		if l == level {
			return i
		}
	}
	return -1
}

// AdjacentSkillLevels 자신과 ±1 레벨 (낮은 레벨부터)
func AdjacentSkillLevels(level string) []string {
	idx := SkillLevelIndex(level)
	if idx < 0 {
		return []string{level}
	}

	levels := make([]string, 0, 3)
	if idx > 0 {
		levels = append(levels, SkillLevels[idx-1])
	}
	levels = append(levels, SkillLevels[idx])
	if idx < len(SkillLevels)-1 {
		levels = append(levels, SkillLevels[idx+1])
	}
	return levels
}

// QueueEntry 레벨별 대기열의 한 항목
type QueueEntry struct {
	UserID     string    `json:"userId"`
	SkillLevel string    `json:"skillLevel"`
	Topic      string    `json:"topic"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// MatchResult 상대방이 대신 써 두는 매칭 결과 (mailbox)
type MatchResult struct {
	SessionID string    `json:"sessionId"`
	PartnerID string    `json:"partnerId"`
	MatchedAt time.Time `json:"matchedAt"`
}

// UserMeta user:<id>:meta 해시
type UserMeta struct {
	JoinedAt    time.Time    `json:"joinedAt"`
	SkillLevel  string       `json:"skillLevel"`
	Topic       string       `json:"topic"`
	MatchResult *MatchResult `json:"matchResult,omitempty"`
}

// MatchPhase 구조화 매칭의 완화 단계
type MatchPhase string

const (
	PhaseStrict  MatchPhase = "strict"
	PhaseMedium  MatchPhase = "medium"
	PhaseRelaxed MatchPhase = "relaxed"
)

// MatchCriteria 탐색마다 새로 계산되는 상대 조건 (저장하지 않음)
type MatchCriteria struct {
	SkillLevel     string
	SkillLevels    []string
	ReliabilityMin int
	TierMin        int
	TierMax        int
	Interests      []string
	Phase          MatchPhase
}

// MaxTier 사용자 등급 상한 (0..4)
const MaxTier = 4

// AcceptsTier 현재 단계에서 상대 등급을 허용하는지
func (c MatchCriteria) AcceptsTier(tier int) bool {
	return tier >= c.TierMin && tier <= c.TierMax
}

// AcceptsLevel 후보 풀에 포함되는 레벨인지
func (c MatchCriteria) AcceptsLevel(level string) bool {
	for _, l := range c.SkillLevels {
		if l == level {
			return true
		}
	}
	return false
}

// CheckMatchResult 기본 매칭 폴링 결과
type CheckMatchResult struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"sessionId,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StructuredMatchResult 구조화 매칭 결과
type StructuredMatchResult struct {
	Matched   bool    `json:"matched"`
	PartnerID string  `json:"partnerId,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Score     float64 `json:"score,omitempty"`
}

type JoinQueueRequest struct {
	UserID string `json:"userId" binding:"required"`
	Level  string `json:"level" binding:"required,skilllevel"`
	Topic  string `json:"topic"`
}

type LeaveQueueRequest struct {
	UserID string `json:"userId" binding:"required"`
	Level  string `json:"level" binding:"required,skilllevel"`
}

type MatchStatusQuery struct {
	UserID string `form:"userId" binding:"required"`
	Level  string `form:"level" binding:"required,skilllevel"`
}

type FindStructuredRequest struct {
	UserID    string `json:"userId" binding:"required"`
	Structure string `json:"structure" binding:"required"`
}
