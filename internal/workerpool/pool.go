package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/procstatus/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	queue     chan Task
	inflight  sync.WaitGroup
	workers   sync.WaitGroup
	accepting atomic.Bool
	closeOnce sync.Once
	mu        sync.RWMutex // orders Submit against queue close
	rejected  atomic.Int64
}

// New starts a pool of maxWorkers goroutines with a queue of queueSize.
func New(maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{queue: make(chan Task, queueSize)}
	p.accepting.Store(true)

	p.workers.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Submit enqueues a task without blocking. It returns false when the pool is
// shutting down or the queue is full.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.accepting.Load() {
		return false
	}

	p.inflight.Add(1)
	select {
	case p.queue <- task:
		return true
	default:
		p.inflight.Done()
		p.rejected.Add(1)
		log.Warn("worker pool queue full, task rejected")
		return false
	}
}

// Rejected returns how many tasks were turned away because the queue was full.
func (p *Pool) Rejected() int64 { return p.rejected.Load() }

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish or for ctx to end, whichever comes first. Workers exit either way.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.accepting.Store(false)
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.queue)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.workers.Wait()
		log.Debug("worker pool drained")
		return nil
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.queue {
		p.run(task)
	}
}

// run executes one task with panic recovery.
func (p *Pool) run(task Task) {
	defer p.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
