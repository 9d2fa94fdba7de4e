package service

import (
	"math"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
)

const (
	strictPhaseEnd = 15 * time.Second
	mediumPhaseEnd = 30 * time.Second
)

// PhaseFor 경과 시간에 따른 완화 단계
func PhaseFor(elapsed time.Duration) models.MatchPhase {
	switch {
	case elapsed < strictPhaseEnd:
		return models.PhaseStrict
	case elapsed < mediumPhaseEnd:
		return models.PhaseMedium
	default:
		return models.PhaseRelaxed
	}
}

// ReliabilityFloor 요청자 신뢰도에 따른 상대 최소 신뢰도
func ReliabilityFloor(reliability int) int {
	switch {
	case reliability >= 80:
		return 60
	case reliability >= 60:
		return 40
	case reliability >= 40:
		return 20
	default:
		return 0
	}
}

// BuildCriteria 요청자 프로필과 경과 시간으로 이번 라운드의 조건 계산
func BuildCriteria(profile *models.UserProfile, elapsed time.Duration) models.MatchCriteria {
	level := strings.ToUpper(profile.SkillLevel)
	phase := PhaseFor(elapsed)

	tierMin, tierMax := profile.Tier, profile.Tier
	switch phase {
	case models.PhaseMedium:
		tierMin, tierMax = profile.Tier-1, profile.Tier+1
	case models.PhaseRelaxed:
		tierMin, tierMax = 0, models.MaxTier
	}
	if tierMin < 0 {
		tierMin = 0
	}
	if tierMax > models.MaxTier {
		tierMax = models.MaxTier
	}

	return models.MatchCriteria{
		SkillLevel:     level,
		SkillLevels:    models.AdjacentSkillLevels(level),
		ReliabilityMin: ReliabilityFloor(profile.ReliabilityScore),
		TierMin:        tierMin,
		TierMax:        tierMax,
		Interests:      profile.Interests,
		Phase:          phase,
	}
}

// Eligible 후보가 이번 라운드 조건을 만족하는지 (레벨, 신뢰도, 등급)
func Eligible(c models.MatchCriteria, candidate *models.UserProfile) bool {
	if !c.AcceptsLevel(strings.ToUpper(candidate.SkillLevel)) {
		return false
	}
	if candidate.ReliabilityScore < c.ReliabilityMin {
		return false
	}
	return c.AcceptsTier(candidate.Tier)
}

// ScoreCandidate 후보 점수
//
//	레벨 일치 +30 (인접 +10)
//	신뢰도 근접 최대 +20
//	등급 근접 최대 +15 (한 단계당 -5)
//	공통 관심사 하나당 +5
func ScoreCandidate(c models.MatchCriteria, requester, candidate *models.UserProfile) float64 {
	score := 10.0
	if strings.ToUpper(candidate.SkillLevel) == c.SkillLevel {
		score = 30
	}

	relDiff := math.Abs(float64(requester.ReliabilityScore - candidate.ReliabilityScore))
	score += math.Max(0, 20*(1-relDiff/100))

	tierDiff := math.Abs(float64(requester.Tier - candidate.Tier))
	score += math.Max(0, 15-5*tierDiff)

	score += 5 * float64(sharedInterests(c.Interests, candidate.Interests))

	return score
}

func sharedInterests(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, tag := range a {
		set[strings.ToLower(strings.TrimSpace(tag))] = struct{}{}
	}

	shared := 0
	for _, tag := range b {
		key := strings.ToLower(strings.TrimSpace(tag))
		if _, ok := set[key]; ok {
			shared++
			delete(set, key)
		}
	}
	return shared
}
