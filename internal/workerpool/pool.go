// Package workerpool runs jobs on a fixed set of goroutines fed by a FIFO
// queue.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/die-net/fwdproxy/internal/metrics"
)

// ErrClosed is returned by Submit once Shutdown has been called.
var ErrClosed = errors.New("worker pool closed")

// DefaultQueueSize is the queue capacity main uses when none is given.
const DefaultQueueSize = 1024

// DefaultWorkers returns the worker count used when Config.Workers is unset.
func DefaultWorkers() int {
	return 4 * runtime.GOMAXPROCS(0)
}

// Job is one unit of work. ctx is canceled only when Shutdown gives up
// waiting.
type Job func(ctx context.Context)

type Config struct {
	// Workers is the fixed number of goroutines. Zero means
	// DefaultWorkers().
	Workers int

	// QueueSize is the number of jobs that may wait for a worker. Zero makes
	// Submit hand jobs directly to an idle worker.
	QueueSize int

	Logger  *zap.Logger
	Metrics *metrics.Pool
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Workers   int
	Queued    int64
	Running   int64
	Completed uint64
	Panicked  uint64
}

// Pool is a fixed-size worker pool. All methods are safe for concurrent use.
type Pool struct {
	cfg Config
	log *zap.Logger

	// mu guards closing jobs against concurrent sends.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	jobs      chan Job

	jobCtx     context.Context
	cancelJobs context.CancelFunc

	wg   sync.WaitGroup
	done chan struct{}

	queued    atomic.Int64
	running   atomic.Int64
	completed atomic.Uint64
	panicked  atomic.Uint64
}

// New starts the workers. Jobs run with a context derived from ctx.
func New(ctx context.Context, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		cfg:  cfg,
		log:  cfg.Logger,
		jobs: make(chan Job, cfg.QueueSize),
		done: make(chan struct{}),
	}
	p.jobCtx, p.cancelJobs = context.WithCancel(ctx)

	for range cfg.Workers {
		p.wg.Go(p.worker)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	return p
}

// Submit enqueues job, blocking while the queue is full until ctx is done.
// Jobs start in submission order.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.cfg.Metrics.Rejected()
		return ErrClosed
	}

	p.queued.Add(1)
	p.cfg.Metrics.Enqueued()
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		p.queued.Add(-1)
		p.cfg.Metrics.Withdrawn()
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits until every queued and running job
// has finished. If ctx ends first, running jobs have their context canceled,
// Shutdown still waits for the workers to return, and ctx's error is
// returned. Shutdown may be called more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	select {
	case <-p.done:
		p.cancelJobs()
		return nil
	case <-ctx.Done():
	}

	p.log.Warn("shutdown timed out, canceling running jobs", zap.Int64("running", p.running.Load()))
	p.cancelJobs()
	<-p.done
	return ctx.Err()
}

// Done is closed once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		Queued:    p.queued.Load(),
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker() {
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	p.queued.Add(-1)
	p.running.Add(1)
	p.cfg.Metrics.JobStarted()

	defer func() {
		panicked := false
		if r := recover(); r != nil {
			panicked = true
			p.panicked.Add(1)
			p.log.Error("job panicked", zap.Any("panic", r), zap.StackSkip("stack", 1))
		}
		p.running.Add(-1)
		p.completed.Add(1)
		p.cfg.Metrics.JobDone(panicked)
	}()

	job(p.jobCtx)
}
