package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/englivo/englivo-backend/pkg/metrics"
	"go.uber.org/zap"
)

const sweeperLockKey = "lock:session-sweeper"

// AbandonSweeper 일정 시간 활동이 없는 CREATED/IN_PROGRESS 세션을 ABANDONED로 전환
// 세션마다 타이머를 두지 않고 주기적으로 한 번에 스캔한다.
type AbandonSweeper struct {
	sessions  SessionStore
	locker    Locker
	logger    *zap.Logger
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

func NewAbandonSweeper(sessions SessionStore, locker Locker, interval, threshold time.Duration, logger *zap.Logger) *AbandonSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}

	return &AbandonSweeper{
		sessions:  sessions,
		locker:    locker,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// SetClock 테스트용 시계 주입
func (s *AbandonSweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start 스윕 루프 시작
func (s *AbandonSweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting AbandonSweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("threshold", s.threshold))

	s.wg.Add(1)
	go s.loop()
}

// Stop 스윕 루프 중지
func (s *AbandonSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("AbandonSweeper stopped")
}

func (s *AbandonSweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.stopChan:
			return
		}
	}
}

// runOnce 락을 잡은 인스턴스 하나만 스윕
func (s *AbandonSweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	ran, err := s.locker.RunExclusive(ctx, sweeperLockKey, s.interval, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
	if err != nil {
		s.logger.Error("Abandon sweep failed", zap.Error(err))
		return
	}
	if !ran {
		s.logger.Debug("Abandon sweep skipped, another instance holds the lock")
	}
}

// Sweep 한 번 스캔, 전환된 세션 수 반환
func (s *AbandonSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.threshold)

	ids, err := s.sessions.MarkAbandoned(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned sessions: %w", err)
	}

	if len(ids) > 0 {
		metrics.SessionsAbandonedTotal.Add(float64(len(ids)))
		s.logger.Info("Sessions abandoned",
			zap.Int("count", len(ids)),
			zap.Strings("sessionIds", ids))
	}

	return len(ids), nil
}
