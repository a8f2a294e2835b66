package netkit

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
)

// ErrPoolStopped indicates work was submitted to a stopped pool.
var ErrPoolStopped = errors.New("worker pool is stopped")

// ErrShrinkTooLarge indicates a shrink request exceeding the worker count.
var ErrShrinkTooLarge = errors.New("cannot remove more workers than exist")

// TaskFunc is a unit of work executed by exactly one worker.
type TaskFunc func() (any, error)

// TaskHandle resolves to a task's result once a worker has completed it.
// It resolves exactly once, including when the task fails or panics.
type TaskHandle struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newTaskHandle() *TaskHandle {
	return &TaskHandle{done: make(chan struct{})}
}

func (h *TaskHandle) complete(v any, err error) {
	h.once.Do(func() {
		h.value = v
		h.err = err
		close(h.done)
	})
}

// Done returns a channel closed when the task has resolved.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task resolves and returns its outcome.
func (h *TaskHandle) Wait() (any, error) {
	<-h.done

	return h.value, h.err
}

// Worker states. Transitions use CAS so a concurrent Shrink marking a
// worker stopped is never overwritten by the worker itself.
const (
	workerWaiting int32 = iota
	workerRunning
	workerStopped
)

type poolWorker struct {
	id    uint64
	state atomic.Int32
}

type queuedTask struct {
	fn     TaskFunc
	handle *TaskHandle
}

// WorkerPool executes submitted tasks on a resizable set of background
// workers consuming one shared FIFO queue. The queue and worker registry
// share a single mutex plus condition variable; no lock is ever held while
// a task runs.
type WorkerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	workers map[uint64]*poolWorker
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// NewWorkerPool creates a pool with the given number of initial workers.
// A nil logger disables logging.
func NewWorkerPool(initialWorkers int, logger *zerolog.Logger) *WorkerPool {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	p := &WorkerPool{
		tasks:   queue.New(),
		workers: make(map[uint64]*poolWorker),
		logger:  l,
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	p.spawnLocked(initialWorkers)
	p.mu.Unlock()

	return p
}

// Submit appends fn to the task queue and wakes one worker. It never blocks
// waiting for capacity; after Close it fails with ErrPoolStopped.
func (p *WorkerPool) Submit(fn TaskFunc) (*TaskHandle, error) {
	h := newTaskHandle()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	p.tasks.Add(&queuedTask{fn: fn, handle: h})
	p.mu.Unlock()

	p.cond.Signal()

	return h, nil
}

// Grow adds n workers without disturbing existing workers or queued tasks.
func (p *WorkerPool) Grow(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	p.spawnLocked(n)

	return nil
}

// Shrink marks n workers stopped and wakes them. A stopped worker finishes
// any task it is currently executing, then exits without dequeuing further
// work. Requesting more workers than exist fails without side effects.
func (p *WorkerPool) Shrink(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if n > len(p.workers) {
		return ErrShrinkTooLarge
	}

	removed := 0
	for id, w := range p.workers {
		if removed == n {
			break
		}
		w.state.Store(workerStopped)
		delete(p.workers, id)
		removed++
	}
	p.cond.Broadcast()

	return nil
}

// Size returns the current worker count. Under concurrent resize the value
// is informational only.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.workers)
}

// Close stops the pool, wakes all workers and joins them. Workers finish
// any task already dequeued; tasks still queued are failed with
// ErrPoolStopped so their handles never hang. Idempotent.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	for p.tasks.Length() > 0 {
		t, ok := p.tasks.Remove().(*queuedTask)
		if !ok {
			continue
		}
		t.handle.complete(nil, ErrPoolStopped)
	}
	p.workers = make(map[uint64]*poolWorker)
	p.mu.Unlock()

	p.logger.Debug().Msg("worker pool closed")
}

// spawnLocked starts n workers. Caller holds mu.
func (p *WorkerPool) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		w := &poolWorker{id: p.nextID}
		p.nextID++
		p.workers[w.id] = w
		p.wg.Add(1)
		go p.run(w)
	}
}

func (p *WorkerPool) run(w *poolWorker) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for !p.stopped && w.state.Load() != workerStopped && p.tasks.Length() == 0 {
			p.cond.Wait()
		}
		if p.stopped || w.state.Load() == workerStopped {
			p.mu.Unlock()
			return
		}

		t, ok := p.tasks.Remove().(*queuedTask)
		p.mu.Unlock()
		if !ok {
			continue
		}

		w.state.CompareAndSwap(workerWaiting, workerRunning)
		p.execute(t)
		w.state.CompareAndSwap(workerRunning, workerWaiting)
	}
}

// execute runs one task, converting a panic into a failed result on the
// handle instead of crashing the worker.
func (p *WorkerPool) execute(t *queuedTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("task panicked")
			t.handle.complete(nil, fmt.Errorf("task panic: %v", r))
		}
	}()

	v, err := t.fn()
	t.handle.complete(v, err)
}
