package mailsentry

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Pool runs tasks on a fixed number of worker goroutines. Tasks wait in a
// queue of fixed size, Submit blocks while the queue is full.
type Pool struct {
	log    *slog.Logger
	tasks  chan func()
	wg     sync.WaitGroup // For waiting for workers to stop.
	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines with a queue of queueSize tasks.
func NewPool(workers, queueSize int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		log:   log,
		tasks: make(chan func(), queueSize),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		metricPoolQueued.Dec()
		p.run(task)
	}
}

// run executes a task. A panic is logged and doesn't stop the worker.
func (p *Pool) run(task func()) {
	defer func() {
		if x := recover(); x != nil {
			metricPoolTasks.WithLabelValues("panic").Inc()
			p.log.Error("task panic", slog.Any("panic", x), slog.String("stack", string(debug.Stack())))
		}
	}()
	task()
}

// Submit queues task, waiting for space in the queue until ctx is done. It
// returns ErrCheckerClosed after Close.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		metricPoolTasks.WithLabelValues("rejected").Inc()
		return ErrCheckerClosed
	}
	if err := ctx.Err(); err != nil {
		metricPoolTasks.WithLabelValues("rejected").Inc()
		return err
	}
	// Counted before the send, a worker may take the task right away.
	metricPoolQueued.Inc()
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		metricPoolQueued.Dec()
		metricPoolTasks.WithLabelValues("rejected").Inc()
		return ctx.Err()
	}
}

// Closed returns whether Close was called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close stops accepting tasks, runs the tasks already queued and waits for
// the workers to stop. Submits blocked on a full queue are let through first.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// batch tracks the tasks of one run on a shared pool.
type batch struct {
	pool *Pool
	ctx  context.Context // Run context. Once done, no new tasks are started.
	wg   sync.WaitGroup
}

func newBatch(ctx context.Context, pool *Pool) *batch {
	return &batch{pool: pool, ctx: ctx}
}

// Go submits fn. When the run context is done by the time a worker picks the
// task up, fn is skipped. An error means fn was not submitted.
func (b *batch) Go(fn func()) error {
	b.wg.Add(1)
	err := b.pool.Submit(b.ctx, func() {
		defer b.wg.Done()
		if b.ctx.Err() != nil {
			metricPoolTasks.WithLabelValues("skipped").Inc()
			return
		}
		fn()
		metricPoolTasks.WithLabelValues("ok").Inc()
	})
	if err != nil {
		b.wg.Done()
	}
	return err
}

// Wait waits for all submitted tasks to finish or be skipped.
func (b *batch) Wait() {
	b.wg.Wait()
}
