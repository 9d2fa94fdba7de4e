package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/englivo/englivo-backend/pkg/aiclient"
)

// Common service errors
var (
	ErrInvalidInput = errors.New("invalid input")
)

// Matchmaking errors
var (
	ErrInvalidSkillLevel = errors.New("invalid skill level")
	ErrInvalidStructure  = errors.New("invalid structure")
	ErrUserNotFound      = errors.New("user not found")

	// errRaceLost 동시 폴링에서 한쪽을 빼앗긴 경우, 호출자에게는 "계속 폴링"으로 보고
	errRaceLost = errors.New("race lost")
)

// Session errors
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrDuplicateParticipant = errors.New("duplicate participant")
)

// ErrorKind 호출자가 재시도 여부를 판단하기 위한 분류
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// KindOf 에러 분류
// 알 수 없는 에러는 Redis/DB/AI 백엔드 호출 실패로 보고 transient로 취급한다.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidSkillLevel),
		errors.Is(err, ErrInvalidStructure),
		errors.Is(err, ErrDuplicateParticipant):
		return KindValidation
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrParticipantNotFound):
		return KindNotFound
	case errors.Is(err, errRaceLost):
		return KindConflict
	case isRejectedByAI(err):
		return KindValidation
	case errors.Is(err, context.Canceled):
		return KindInternal
	default:
		return KindTransient
	}
}

// IsRetryable 작업 큐가 백오프 후 재시도해야 하는 에러인지
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// isRejectedByAI AI 백엔드가 요청 자체를 거절한 경우 (재시도해도 같은 결과)
// 408/429는 일시적인 거절이므로 제외한다.
func isRejectedByAI(err error) bool {
	var re *aiclient.ResponseError
	if !errors.As(err, &re) {
		return false
	}
	switch re.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return re.StatusCode >= 400 && re.StatusCode < 500
}
