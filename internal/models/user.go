package models

import "github.com/lib/pq"

// UserProfile 외부 사용자 저장소의 읽기 전용 뷰
// ID는 내부 uuid, ExternalID는 클라이언트가 사용하는 식별자
type UserProfile struct {
	ID               string         `json:"id" db:"id"`
	ExternalID       string         `json:"externalId" db:"external_id"`
	SkillLevel       string         `json:"skillLevel" db:"skill_level"`
	ReliabilityScore int            `json:"reliabilityScore" db:"reliability_score"`
	Tier             int            `json:"tier" db:"tier"`
	Interests        pq.StringArray `json:"interests" db:"interests"`
}
