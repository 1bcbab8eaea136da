// Package fetchqueue runs fire-and-forget background jobs on a bounded set of
// workers.
//
// Submit never blocks: a full queue is reported to the caller instead. Jobs
// carry no ordering guarantee and anything still queued when the process dies
// is lost.
package fetchqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/roster/internal/apperr"
)

// Job is one unit of background work.
type Job func(ctx context.Context)

type task struct {
	name string
	run  Job
}

// Pool is a fixed-size worker pool fed by a buffered queue.
type Pool struct {
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex // guards queue sends against close
	queue   chan task
	closed  bool
	started bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New creates a pool with the given number of workers and queue capacity.
func New(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workers: workers,
		logger:  logger,
		queue:   make(chan task, queueSize),
	}
}

// Start launches the workers. Jobs receive a context derived from ctx that
// is cancelled by Stop or when ctx ends. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gCtx := errgroup.WithContext(ctx)
	p.group = g

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(gCtx)
			return nil
		})
	}
}

func (p *Pool) work(ctx context.Context) {
	for t := range p.queue {
		p.runTask(ctx, t)
	}
}

func (p *Pool) runTask(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("queue: job panicked",
				slog.String("job", t.name),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	t.run(ctx)
}

// Submit enqueues fn without waiting for it to run.
func (p *Pool) Submit(name string, fn Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return apperr.ErrClosed
	}
	select {
	case p.queue <- task{name: name, run: fn}:
		return nil
	default:
		p.logger.Warn("queue: full, job dropped", slog.String("job", name))
		return apperr.ErrQueueFull
	}
}

// Close stops intake, lets workers drain what is already queued and waits
// for them. Close on a pool that was never started discards queued jobs.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	g := p.group
	p.mu.Unlock()

	if g != nil {
		_ = g.Wait()
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// Stop cancels the context passed to running jobs and then closes the pool.
// Queued jobs still run but see a cancelled context.
func (p *Pool) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	p.Close()
}
