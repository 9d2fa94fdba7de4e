package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/distributed"
	"github.com/englivo/englivo-backend/pkg/metrics"
	"go.uber.org/zap"
)

// JobProcessor 작업 하나를 처리 (SessionProcessor)
type JobProcessor interface {
	Process(ctx context.Context, job *models.ProcessingJob) error
}

// JobWorkerConfig 워커 설정
type JobWorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	StaleTimeout time.Duration
}

// JobWorker 분석 작업 큐 소비 루프
// 재시도 가능한 에러는 백오프 후 재등록, 검증/NotFound 같은 종료성 에러는 바로 DLQ로 보낸다.
type JobWorker struct {
	queue     JobConsumer
	processor JobProcessor
	logger    *zap.Logger
	cfg       JobWorkerConfig
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

func NewJobWorker(queue JobConsumer, processor JobProcessor, cfg JobWorkerConfig, logger *zap.Logger) *JobWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Minute
	}

	return &JobWorker{
		queue:     queue,
		processor: processor,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start 워커 고루틴과 stale 복구 루프 시작
func (w *JobWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.logger.Info("Starting JobWorker",
		zap.Int("workers", w.cfg.Workers),
		zap.Duration("pollInterval", w.cfg.PollInterval))

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.wg.Add(1)
	go w.recoveryLoop(ctx)
}

// Stop 진행 중인 작업이 끝날 때까지 대기
func (w *JobWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.logger.Info("JobWorker stopped")
}

func (w *JobWorker) workerLoop(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("Worker failed to process job", zap.Int("worker", id), zap.Error(err))
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *JobWorker) recoveryLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.StaleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := w.queue.RecoverStale(ctx, w.cfg.StaleTimeout)
			if err != nil {
				w.logger.Error("Failed to recover stale jobs", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Warn("Recovered stale jobs", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ProcessNext 실행 가능한 작업 하나를 처리, 큐가 비어 있으면 false
func (w *JobWorker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx)
	if errors.Is(err, distributed.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// 종료 중에도 작업 하나는 끝까지 처리
	jobCtx := context.WithoutCancel(ctx)
	start := time.Now()
	procErr := w.processor.Process(jobCtx, job)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	return true, w.settle(jobCtx, job, procErr)
}

func (w *JobWorker) settle(ctx context.Context, job *models.ProcessingJob, procErr error) error {
	if procErr == nil {
		metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeCompleted).Inc()
		return w.queue.Complete(ctx, job.ID)
	}

	if !IsRetryable(procErr) {
		metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeDeadLetter).Inc()
		w.logger.Error("Analysis job failed permanently",
			zap.String("sessionId", job.SessionID),
			zap.String("kind", KindOf(procErr).String()),
			zap.Error(procErr))
		return w.queue.DeadLetter(ctx, job, procErr.Error())
	}

	dead, err := w.queue.Fail(ctx, job, procErr)
	if err != nil {
		return err
	}

	if dead {
		metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeDeadLetter).Inc()
		w.logger.Error("Analysis job dead-lettered after retries",
			zap.String("sessionId", job.SessionID),
			zap.Int("attempts", job.Attempt),
			zap.Error(procErr))
		return nil
	}

	metrics.JobsProcessedTotal.WithLabelValues(metrics.OutcomeRetried).Inc()
	w.logger.Warn("Analysis job failed, will retry",
		zap.String("sessionId", job.SessionID),
		zap.Int("attempt", job.Attempt),
		zap.Error(procErr))
	return nil
}
