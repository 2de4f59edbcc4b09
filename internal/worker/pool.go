package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

// TaskFunc is a unit of background work. Its error is logged, never returned
// to whoever submitted it.
type TaskFunc func(ctx context.Context) error

type task struct {
	id   string
	name string
	fn   TaskFunc
}

// Pool runs fire-and-forget tasks on a fixed number of goroutines with a
// bounded queue. Submit never blocks the caller.
type Pool struct {
	concurrency int
	queueSize   int
	queue       chan task

	// Internal state
	running  bool
	ctx      context.Context
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt time.Time
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

func NewPool(cfg environments.WorkerConfig) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	return &Pool{
		concurrency: concurrency,
		queueSize:   queueSize,
		queue:       make(chan task, queueSize),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()

	if p.running {
		p.mu.Unlock()
		logger.Warnf("Worker pool is already running")
		return nil
	}

	p.running = true
	// Tasks outlive the request that submitted them, and must be able to
	// finish during shutdown after ctx is cancelled.
	p.ctx = context.WithoutCancel(ctx)
	p.stopChan = make(chan struct{})
	p.doneChan = make(chan struct{})
	p.mu.Unlock()

	logger.Infof("Starting worker pool with %d workers (queue size %d)", p.concurrency, p.queueSize)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go p.run(&wg)
	}

	go func() {
		wg.Wait()
		close(p.doneChan)
	}()

	return nil
}

// run exits only on Stop, so work accepted by Submit is always executed.
func (p *Pool) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case t := <-p.queue:
			p.execute(t)

		case <-p.stopChan:
			p.drain()
			return
		}
	}
}

// drain runs whatever is still queued so accepted work is not lost on shutdown.
func (p *Pool) drain() {
	for {
		select {
		case t := <-p.queue:
			p.execute(t)
		default:
			return
		}
	}
}

func (p *Pool) execute(t task) {
	p.mu.Lock()
	p.lastRunAt = time.Now()
	ctx := p.ctx
	p.mu.Unlock()

	log := logger.With(zap.String("task_id", t.id), zap.String("task", t.name))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return t.fn(ctx)
	}()

	if err != nil {
		p.failed.Add(1)
		log.Debug("background task failed", zap.Error(err))
		return
	}

	p.completed.Add(1)
	log.Debug("background task completed")
}

// Submit queues fn and returns immediately. It returns false when the pool is
// not running or the queue is full; the caller decides what to do then.
func (p *Pool) Submit(name string, fn TaskFunc) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return false
	}

	t := task{id: uuid.NewString(), name: name, fn: fn}

	select {
	case p.queue <- t:
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

func (p *Pool) Stop() error {
	p.mu.Lock()

	if !p.running {
		p.mu.Unlock()
		logger.Warnf("Worker pool is not running")
		return nil
	}

	p.running = false
	stopChan := p.stopChan
	doneChan := p.doneChan
	p.mu.Unlock()

	close(stopChan)

	<-doneChan

	logger.Infof("Worker pool stopped")
	return nil
}

func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) GetStatus() PoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStatus{
		Running:     p.running,
		Concurrency: p.concurrency,
		QueueSize:   p.queueSize,
		Queued:      len(p.queue),
		LastRunAt:   p.lastRunAt,
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		Rejected:    p.rejected.Load(),
	}
}

type PoolStatus struct {
	Running     bool      `json:"running"`
	Concurrency int       `json:"concurrency"`
	QueueSize   int       `json:"queueSize"`
	Queued      int       `json:"queued"`
	LastRunAt   time.Time `json:"lastRunAt,omitempty"`
	Submitted   int64     `json:"submitted"`
	Completed   int64     `json:"completed"`
	Failed      int64     `json:"failed"`
	Rejected    int64     `json:"rejected"`
}
