package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/aiclient"
	"github.com/englivo/englivo-backend/pkg/distributed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedProcessor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedProcessor) Process(ctx context.Context, job *models.ProcessingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func newWorkerFixture(t *testing.T, processor JobProcessor) (*JobWorker, *distributed.RedisJobQueue, *testClock) {
	t.Helper()

	_, client := setupRedis(t)
	queue := distributed.NewRedisJobQueue(client, distributed.JobQueueConfig{
		Name:        "test",
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
	})
	clock := newTestClock()
	queue.SetClock(clock.Now)

	worker := NewJobWorker(queue, processor, JobWorkerConfig{Workers: 1}, zap.NewNop())
	return worker, queue, clock
}

func TestJobWorker_Completes(t *testing.T) {
	processor := &scriptedProcessor{}
	worker, queue, _ := newWorkerFixture(t, processor)
	ctx := context.Background()

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "empty queue")

	_, err = queue.Enqueue(ctx, &models.ProcessingJob{SessionID: "s-1"})
	require.NoError(t, err)

	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &distributed.QueueStats{}, stats)
}

func TestJobWorker_RetriesThenDeadLetters(t *testing.T) {
	processor := &scriptedProcessor{errs: []error{
		fmt.Errorf("audio analysis: %w", errBackendDown),
		fmt.Errorf("audio analysis: %w", errBackendDown),
		fmt.Errorf("audio analysis: %w", errBackendDown),
	}}
	worker, queue, clock := newWorkerFixture(t, processor)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, &models.ProcessingJob{SessionID: "s-1"})
	require.NoError(t, err)

	// 1차 실패 -> 2초 후 재시도
	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "backoff not elapsed")

	clock.Advance(2 * time.Second)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	// 2차 실패 -> 4초 후 재시도
	clock.Advance(4 * time.Second)
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, 3, processor.calls)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueSize)
	assert.Equal(t, int64(1), stats.DLQSize)

	items, err := queue.PeekDLQ(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Job.Attempt)
}

func TestJobWorker_TerminalErrorGoesStraightToDLQ(t *testing.T) {
	processor := &scriptedProcessor{errs: []error{fmt.Errorf("%w: s-1", ErrSessionNotFound)}}
	worker, queue, _ := newWorkerFixture(t, processor)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, &models.ProcessingJob{SessionID: "s-1"})
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	items, err := queue.PeekDLQ(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Job.Attempt)
	assert.Contains(t, items[0].Reason, "session not found")
}

func TestJobWorker_RejectedByAIGoesStraightToDLQ(t *testing.T) {
	rejected := &aiclient.ResponseError{StatusCode: 422, Code: "INVALID_AUDIO", Message: "cannot fetch audio"}
	processor := &scriptedProcessor{errs: []error{fmt.Errorf("participant p-1: audio analysis: %w", rejected)}}
	worker, queue, _ := newWorkerFixture(t, processor)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, &models.ProcessingJob{SessionID: "s-1"})
	require.NoError(t, err)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 1, processor.calls)

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueSize)
	assert.Equal(t, int64(1), stats.DLQSize)

	items, err := queue.PeekDLQ(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Job.Attempt)
	assert.Contains(t, items[0].Reason, "INVALID_AUDIO")
}

func TestJobWorker_StartStop(t *testing.T) {
	processor := &scriptedProcessor{}
	_, client := setupRedis(t)
	queue := distributed.NewRedisJobQueue(client, distributed.JobQueueConfig{Name: "live"})
	worker := NewJobWorker(queue, processor, JobWorkerConfig{Workers: 2, PollInterval: 10 * time.Millisecond}, zap.NewNop())

	worker.Start()
	worker.Start() // 두 번 호출해도 안전

	_, err := queue.Enqueue(context.Background(), &models.ProcessingJob{SessionID: "s-live"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		processor.mu.Lock()
		defer processor.mu.Unlock()
		return processor.calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	worker.Stop()
	worker.Stop()
}
