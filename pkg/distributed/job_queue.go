package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/englivo/englivo-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

var (
	ErrQueueEmpty = errors.New("queue is empty")
)

// JobQueueConfig 작업 큐 설정
type JobQueueConfig struct {
	Name        string        // 키 접두사에 쓰이는 큐 이름
	MaxAttempts int           // 총 실행 시도 횟수 (초과 시 DLQ)
	BackoffBase time.Duration // 첫 재시도 지연, 이후 2배씩 증가
}

// RedisJobQueue Redis 기반 지연 재시도 작업 큐
//
//	jobs:<name>:ready      ZSET  score = 실행 가능 시각(ms)
//	jobs:<name>:data       HASH  id -> job JSON
//	jobs:<name>:processing HASH  id -> 가져간 시각(ms)
//	jobs:<name>:dlq        LIST  dead-letter 항목
//
// 작업 ID는 세션 ID이므로 같은 세션에 대한 작업은 동시에 하나만 존재한다.
type RedisJobQueue struct {
	client        *redis.Client
	readyKey      string
	dataKey       string
	processingKey string
	dlqKey        string
	maxAttempts   int
	backoffBase   time.Duration
	now           func() time.Time
}

var enqueueScript = redis.NewScript(`
	local ready_key = KEYS[1]
	local data_key = KEYS[2]
	local id = ARGV[1]

	if redis.call('HEXISTS', data_key, id) == 1 then
		return 0
	end

	redis.call('HSET', data_key, id, ARGV[2])
	redis.call('ZADD', ready_key, ARGV[3], id)
	return 1
`)

var dequeueScript = redis.NewScript(`
	local ready_key = KEYS[1]
	local data_key = KEYS[2]
	local processing_key = KEYS[3]
	local now = ARGV[1]

	local ids = redis.call('ZRANGEBYSCORE', ready_key, '-inf', now, 'LIMIT', 0, 1)
	if #ids == 0 then
		return false
	end

	local id = ids[1]
	redis.call('ZREM', ready_key, id)

	local data = redis.call('HGET', data_key, id)
	if not data then
		return false
	end

	redis.call('HSET', processing_key, id, now)
	return data
`)

// NewRedisJobQueue 작업 큐 생성
func NewRedisJobQueue(client *redis.Client, cfg JobQueueConfig) *RedisJobQueue {
	if cfg.Name == "" {
		cfg.Name = "session-analysis"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}

	return &RedisJobQueue{
		client:        client,
		readyKey:      fmt.Sprintf("jobs:%s:ready", cfg.Name),
		dataKey:       fmt.Sprintf("jobs:%s:data", cfg.Name),
		processingKey: fmt.Sprintf("jobs:%s:processing", cfg.Name),
		dlqKey:        fmt.Sprintf("jobs:%s:dlq", cfg.Name),
		maxAttempts:   cfg.MaxAttempts,
		backoffBase:   cfg.BackoffBase,
		now:           time.Now,
	}
}

// SetClock 테스트용 시계 주입
func (q *RedisJobQueue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue 작업 추가, 같은 ID의 작업이 이미 있으면 false
func (q *RedisJobQueue) Enqueue(ctx context.Context, job *models.ProcessingJob) (bool, error) {
	if job.ID == "" {
		job.ID = job.SessionID
	}
	if job.ID == "" {
		return false, fmt.Errorf("job has no id")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}

	now := q.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.dataKey},
		job.ID, data, now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue: %w", err)
	}

	return added == 1, nil
}

// Dequeue 실행 가능한 작업 하나를 processing으로 옮기고 반환
func (q *RedisJobQueue) Dequeue(ctx context.Context) (*models.ProcessingJob, error) {
	result, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.dataKey, q.processingKey},
		q.now().UnixMilli(),
	).Result()
	if err == redis.Nil || (err == nil && result == nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected dequeue result %T", result)
	}

	var job models.ProcessingJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// Complete 작업 처리 완료
func (q *RedisJobQueue) Complete(ctx context.Context, jobID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.processingKey, jobID)
		pipe.HDel(ctx, q.dataKey, jobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail 실패 기록 후 백오프 지연을 두고 재등록
// 시도 횟수를 모두 소진하면 DLQ로 이동하고 true를 반환한다.
func (q *RedisJobQueue) Fail(ctx context.Context, job *models.ProcessingJob, cause error) (bool, error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	if job.Attempt >= maxAttempts {
		return true, q.DeadLetter(ctx, job, "max attempts exceeded")
	}

	now := q.now()
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	readyAt := now.Add(q.RetryDelay(job.Attempt))
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.dataKey, job.ID, data)
		pipe.ZAdd(ctx, q.readyKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
		pipe.HDel(ctx, q.processingKey, job.ID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to reschedule job: %w", err)
	}

	return false, nil
}

// RetryDelay n번째 실패 이후의 재시도 지연 (base * 2^(n-1))
func (q *RedisJobQueue) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.backoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = q.backoffBase << 16
	b.MaxElapsedTime = 0
	b.Reset()

	delay := q.backoffBase
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// DLQItem dead-letter 항목
type DLQItem struct {
	Job     models.ProcessingJob `json:"job"`
	Reason  string               `json:"reason"`
	MovedAt time.Time            `json:"movedAt"`
}

// DeadLetter 작업을 DLQ로 이동 (더 이상 자동 재시도 없음)
func (q *RedisJobQueue) DeadLetter(ctx context.Context, job *models.ProcessingJob, reason string) error {
	data, err := json.Marshal(DLQItem{
		Job:     *job,
		Reason:  reason,
		MovedAt: q.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ item: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.dlqKey, data)
		pipe.HDel(ctx, q.processingKey, job.ID)
		pipe.HDel(ctx, q.dataKey, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

// RecoverStale 일정 시간 이상 processing에 머문 작업 복구 (워커 크래시 대비)
func (q *RedisJobQueue) RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error) {
	items, err := q.client.HGetAll(ctx, q.processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing items: %w", err)
	}

	recovered := 0
	now := q.now().UnixMilli()

	for id, startedRaw := range items {
		startedAt, err := strconv.ParseInt(startedRaw, 10, 64)
		if err != nil {
			continue
		}
		if now-startedAt <= staleTimeout.Milliseconds() {
			continue
		}

		raw, err := q.client.HGet(ctx, q.dataKey, id).Result()
		if err == redis.Nil {
			q.client.HDel(ctx, q.processingKey, id)
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to load stale job: %w", err)
		}

		var job models.ProcessingJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}

		if _, err := q.Fail(ctx, &job, errors.New("processing timed out")); err != nil {
			return recovered, err
		}
		recovered++
	}

	return recovered, nil
}

// Size 대기 중(지연 포함) 작업 수
func (q *RedisJobQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.readyKey).Result()
}

// ProcessingCount 처리 중 작업 수
func (q *RedisJobQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.processingKey).Result()
}

// DLQSize DLQ 크기
func (q *RedisJobQueue) DLQSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlqKey).Result()
}

// PeekDLQ DLQ 항목 확인 (제거하지 않음)
func (q *RedisJobQueue) PeekDLQ(ctx context.Context, count int64) ([]DLQItem, error) {
	items, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]DLQItem, 0, len(items))
	for _, item := range items {
		var dlqItem DLQItem
		if err := json.Unmarshal([]byte(item), &dlqItem); err != nil {
			continue
		}
		result = append(result, dlqItem)
	}

	return result, nil
}

// QueueStats 큐 통계
type QueueStats struct {
	QueueSize       int64 `json:"queue_size"`
	ProcessingCount int64 `json:"processing_count"`
	DLQSize         int64 `json:"dlq_size"`
}

// GetStats 큐 통계 조회
func (q *RedisJobQueue) GetStats(ctx context.Context) (*QueueStats, error) {
	queueSize, err := q.Size(ctx)
	if err != nil {
		return nil, err
	}

	processingCount, err := q.ProcessingCount(ctx)
	if err != nil {
		return nil, err
	}

	dlqSize, err := q.DLQSize(ctx)
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		QueueSize:       queueSize,
		ProcessingCount: processingCount,
		DLQSize:         dlqSize,
	}, nil
}
