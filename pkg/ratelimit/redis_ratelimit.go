package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter Redis 기반 분산 Rate Limiter (Token Bucket 알고리즘)
// 여러 인스턴스가 같은 버킷을 공유하므로 상태 폴링처럼 클라이언트가 반복 호출하는 엔드포인트에 사용한다.
type RedisRateLimiter struct {
	client        *redis.Client
	keyPrefix     string
	defaultLimit  int
	defaultWindow time.Duration
	now           func() time.Time
}

// RedisRateLimiterConfig Redis Rate Limiter 설정
type RedisRateLimiterConfig struct {
	KeyPrefix     string        // 키 접두사 (예: "ratelimit:")
	DefaultLimit  int           // 기본 요청 제한
	DefaultWindow time.Duration // 기본 윈도우 크기
}

// 1. 현재 토큰 수와 마지막 리필 시각 조회
// 2. 경과 시간만큼 리필
// 3. 토큰 1개 소비
// 반환: {allowed, remaining, reset_time}
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local tokens_key = key .. ":tokens"
	local timestamp_key = key .. ":timestamp"

	local tokens = tonumber(redis.call('GET', tokens_key))
	local last_update = tonumber(redis.call('GET', timestamp_key))

	if tokens == nil or last_update == nil then
		tokens = limit
		last_update = now
	end

	local elapsed = math.max(0, now - last_update)
	local refill_rate = limit / window
	local new_tokens = math.min(limit, tokens + (elapsed * refill_rate))

	local allowed = 0
	if new_tokens >= 1 then
		new_tokens = new_tokens - 1
		allowed = 1
	end

	redis.call('SET', tokens_key, tostring(new_tokens), 'EX', window * 2)
	redis.call('SET', timestamp_key, now, 'EX', window * 2)

	return {allowed, math.floor(new_tokens), now + window}
`)

// NewRedisRateLimiter 공유 Redis 클라이언트로 Rate Limiter 생성
func NewRedisRateLimiter(client *redis.Client, config RedisRateLimiterConfig) *RedisRateLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ratelimit:"
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 60
	}
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = time.Minute
	}

	return &RedisRateLimiter{
		client:        client,
		keyPrefix:     config.KeyPrefix,
		defaultLimit:  config.DefaultLimit,
		defaultWindow: config.DefaultWindow,
		now:           time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (r *RedisRateLimiter) SetClock(now func() time.Time) {
	r.now = now
}

// Allow 요청 허용 여부 확인
// key: Rate Limit 대상 식별자 (예: userID, IP)
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, _, err := r.AllowWithInfo(ctx, key, limit, window)
	return allowed, err
}

// AllowWithInfo 요청 허용 여부와 상세 정보 반환
func (r *RedisRateLimiter) AllowWithInfo(ctx context.Context, key string, limit int, window time.Duration) (bool, *RateLimitInfo, error) {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if window < time.Second {
		window = r.defaultWindow
	}

	result, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		limit, int(window.Seconds()), r.now().Unix(),
	).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis script execution failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return false, nil, fmt.Errorf("invalid script result")
	}

	allowed, _ := resultSlice[0].(int64)
	remaining, _ := resultSlice[1].(int64)
	resetTime, _ := resultSlice[2].(int64)

	info := &RateLimitInfo{
		Limit:     limit,
		Remaining: int(remaining),
		ResetTime: time.Unix(resetTime, 0),
	}

	return allowed == 1, info, nil
}

// Reset 특정 키의 Rate Limit 초기화
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := r.keyPrefix + key
	if err := r.client.Del(ctx, redisKey+":tokens", redisKey+":timestamp").Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// RateLimitInfo Rate Limit 상세 정보
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}
