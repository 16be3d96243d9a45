package wp

import (
	"errors"
	"sync"

	"github.com/segmentio/fasthash/fnv1a"
)

// ErrPoolStopped is returned by TrySubmit after Stop.
var ErrPoolStopped = errors.New("wp: pool stopped")

// Pool runs tasks on a fixed set of workers. Tasks submitted under the same
// uid always land on the same worker, so they run in submission order.
type Pool struct {
	maxWorkers int
	taskQueues []chan func()
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	onPanic func(uid string, v any)
}

// Option configures a Pool.
type Option func(*Pool)

// WithPanicHandler is called when a task panics. The worker keeps running.
func WithPanicHandler(fn func(uid string, v any)) Option {
	return func(p *Pool) {
		p.onPanic = fn
	}
}

func NewPool(maxWorkers int, queueBuffer int, opts ...Option) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueBuffer < 1 {
		queueBuffer = 1
	}

	p := &Pool{
		maxWorkers: maxWorkers,
		taskQueues: make([]chan func(), maxWorkers),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < maxWorkers; i++ {
		p.taskQueues[i] = make(chan func(), queueBuffer)
		p.wg.Add(1)
		go p.startWorker(p.taskQueues[i])
	}

	return p
}

func (p *Pool) startWorker(queue chan func()) {
	defer p.wg.Done()
	for task := range queue {
		task()
	}
}

// Submit queues task on the worker owning uid. It blocks while that queue is
// full and drops the task once the pool is stopped.
func (p *Pool) Submit(uid string, task func()) {
	_ = p.TrySubmit(uid, task)
}

// TrySubmit is Submit reporting ErrPoolStopped.
func (p *Pool) TrySubmit(uid string, task func()) error {
	if task == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	idx := fnv1a.HashString64(uid) % uint64(p.maxWorkers)
	p.taskQueues[idx] <- p.guard(uid, task)
	return nil
}

func (p *Pool) guard(uid string, task func()) func() {
	return func() {
		defer func() {
			if v := recover(); v != nil && p.onPanic != nil {
				p.onPanic(uid, v)
			}
		}()
		task()
	}
}

// Stop rejects new tasks, runs every queued one and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.taskQueues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
