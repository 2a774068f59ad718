// Package workers provides the shared pool of cooperative tasks the engine
// runs bot loops on. Tasks may be long-running; they observe the pool
// context for shutdown and a panic in one task never reaches another.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work. Long-running tasks must return promptly once ctx
// is cancelled.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Config sizes the pool.
type Config struct {
	Name string
	// NumWorkers must cover every concurrently running long task; size it
	// MaxBots plus headroom for the managers.
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a pool sized for a full bot fleet.
func DefaultConfig(name string, maxBots int) Config {
	return Config{
		Name:            name,
		NumWorkers:      maxBots + 8,
		QueueSize:       256,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Stats are the pool counters.
type Stats struct {
	Submitted      int64 `json:"submitted"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	PanicRecovered int64 `json:"panic_recovered"`
	Queued         int   `json:"queued"`
	Workers        int   `json:"workers"`
}

// Pool runs tasks on a fixed set of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config Config

	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// Errors returned by Submit and Stop.
var (
	ErrPoolStopped     = &Error{Message: "pool is stopped"}
	ErrQueueFull       = &Error{Message: "task queue is full"}
	ErrShutdownTimeout = &Error{Message: "shutdown timed out"}
)

// Error is a pool-level failure.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// NewPool creates an idle pool; call Start before submitting.
func NewPool(logger *zap.Logger, config Config) *Pool {
	if config.NumWorkers <= 0 {
		config = DefaultConfig(config.Name, 25)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger: logger.Named("workers"),
		config: config,
		queue:  make(chan Task, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. Idempotent.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("worker pool starting",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers))

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.execute(logger, task)
		}
	}
}

// execute runs one task with panic containment. A recovered panic counts
// as a failure; the worker survives.
func (p *Pool) execute(logger *zap.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			logger.Error("task panic recovered", zap.Any("panic", r))
		}
	}()

	if err := task.Execute(p.ctx); err != nil {
		p.failed.Add(1)
		logger.Debug("task failed", zap.Error(err))
		return
	}
	p.completed.Add(1)
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc enqueues a function as a task.
func (p *Pool) SubmitFunc(fn func(ctx context.Context) error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop cancels the pool context and waits for workers to drain, up to the
// shutdown timeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout))
		return ErrShutdownTimeout
	}
}

// Running reports whether the pool accepts tasks.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:      p.submitted.Load(),
		Completed:      p.completed.Load(),
		Failed:         p.failed.Load(),
		PanicRecovered: p.panics.Load(),
		Queued:         len(p.queue),
		Workers:        p.config.NumWorkers,
	}
}
