package cache

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/HongKai-hskd/vibeMusic/logger"
)

const (
	// DefaultWorkers is the size of the rebuild pool.
	DefaultWorkers = 10
	// DefaultQueueSize is the number of rebuild tasks that may wait for a worker.
	DefaultQueueSize = 1024
)

// Task is a unit of background work. ctx is cancelled when Shutdown gives up
// waiting for the queue to drain.
type Task func(ctx context.Context)

type executorConfig struct {
	workers   int
	queueSize int
	logger    logger.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

// WithWorkers sets the number of worker goroutines. Defaults to DefaultWorkers.
func WithWorkers(n int) ExecutorOption {
	return func(c *executorConfig) { c.workers = n }
}

// WithQueueSize sets the task queue capacity. Defaults to DefaultQueueSize.
func WithQueueSize(n int) ExecutorOption {
	return func(c *executorConfig) { c.queueSize = n }
}

// WithExecutorLogger sets the logger used to report recovered panics.
func WithExecutorLogger(log logger.Logger) ExecutorOption {
	return func(c *executorConfig) { c.logger = log }
}

// Executor is a fixed-size worker pool with a bounded queue. Submit never
// blocks, so a burst of stale reads cannot grow resource usage without bound.
type Executor struct {
	cfg       executorConfig
	queue     chan Task
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	mutex     sync.RWMutex
	started   bool
	closed    bool
	once      sync.Once
	submitted atomic.Int64
	completed atomic.Int64
}

// NewExecutor returns an Executor. Call Start before submitting work and
// Shutdown when the process exits.
func NewExecutor(opts ...ExecutorOption) *Executor {
	cfg := executorConfig{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = DefaultWorkers
	}
	if cfg.queueSize < 0 {
		cfg.queueSize = 0
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:    cfg,
		queue:  make(chan Task, cfg.queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. Calling Start more than once, or after
// Shutdown, has no effect.
func (e *Executor) Start() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	for i := 0; i < e.cfg.workers; i++ {
		e.waitGroup.Add(1)
		go e.work()
	}
}

// Submit queues task for execution.
func (e *Executor) Submit(task Task) error {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}
	if !e.started {
		return ErrExecutorNotStarted
	}
	select {
	case e.queue <- task:
		e.submitted.Add(1)
		return nil
	default:
		return ErrExecutorFull
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx is done first, running tasks have their context cancelled
// and ctx.Err() is returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.once.Do(func() {
		e.mutex.Lock()
		e.closed = true
		close(e.queue)
		e.mutex.Unlock()
	})
	done := make(chan struct{})
	go func() {
		e.waitGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (e *Executor) Pending() int {
	return len(e.queue)
}

// Submitted returns the number of tasks accepted since creation.
func (e *Executor) Submitted() int64 {
	return e.submitted.Load()
}

// Completed returns the number of tasks that have finished, including ones
// that panicked.
func (e *Executor) Completed() int64 {
	return e.completed.Load()
}

func (e *Executor) work() {
	defer e.waitGroup.Done()
	for task := range e.queue {
		e.run(task)
	}
}

func (e *Executor) run(task Task) {
	defer e.completed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			e.cfg.logger.Error("rebuild task panicked: %s\n%s", fmt.Sprint(r), debug.Stack())
		}
	}()
	task(e.ctx)
}
