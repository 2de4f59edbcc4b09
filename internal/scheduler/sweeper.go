package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

// InterruptedReason is recorded on messages whose dispatch never finished.
const InterruptedReason = "Delivery interrupted, please retry"

type staleMessageStore interface {
	FailStaleSending(ctx context.Context, cutoff time.Time, failedAt time.Time, reason string) (int64, error)
}

// Sweeper periodically fails business messages stuck in sending, e.g. after
// a restart dropped their dispatch task, so the UI can offer a retry.
type Sweeper struct {
	store      staleMessageStore
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	lastRunAt  time.Time
	runsCount  int64
	sweptCount int64
}

func NewSweeper(store staleMessageStore, cfg environments.WorkerConfig) *Sweeper {
	return &Sweeper{
		store:      store,
		interval:   cfg.SweepInterval,
		staleAfter: cfg.StaleSendingAfter,
		now:        time.Now,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 || s.staleAfter <= 0 {
		logger.Infof("Stale sending sweeper disabled")
		return nil
	}

	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Sweeper is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting sweeper with interval: %v, stale after: %v", s.interval, s.staleAfter)

	go s.run(ctx)

	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)

		case <-s.stopChan:
			logger.Debugf("Sweeper received stop signal")
			return

		case <-ctx.Done():
			logger.Debugf("Sweeper context cancelled")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	s.lastRunAt = now
	s.runsCount++
	runNumber := s.runsCount
	s.mu.Unlock()

	swept, err := s.store.FailStaleSending(ctx, now.Add(-s.staleAfter), now, InterruptedReason)
	if err != nil {
		logger.Errorf("[Sweep #%d] Error failing stale messages: %v", runNumber, err)
		return
	}

	if swept == 0 {
		return
	}

	s.mu.Lock()
	s.sweptCount += swept
	s.mu.Unlock()

	logger.Warnf("[Sweep #%d] Marked %d stale sending messages as failed", runNumber, swept)
}

func (s *Sweeper) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Sweeper stopped")
	return nil
}

func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sweeper) GetStatus() SweeperStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SweeperStatus{
		Running:    s.running,
		LastRunAt:  s.lastRunAt,
		RunsCount:  s.runsCount,
		SweptCount: s.sweptCount,
		Interval:   s.interval,
		StaleAfter: s.staleAfter,
	}
}

type SweeperStatus struct {
	Running    bool          `json:"running"`
	LastRunAt  time.Time     `json:"lastRunAt,omitempty"`
	RunsCount  int64         `json:"runsCount"`
	SweptCount int64         `json:"sweptCount"`
	Interval   time.Duration `json:"interval"`
	StaleAfter time.Duration `json:"staleAfter"`
}
