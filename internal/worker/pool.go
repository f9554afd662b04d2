package worker

import (
	"context"
	"sync"
)

// Task is a unit of work executed by the pool, typically one inference
// call or one document-group analysis.
type Task interface {
	Run(ctx context.Context) Outcome
}

// Outcome is what a task produces.
type Outcome interface {
	Err() error
}

// Pool executes tasks concurrently with a fixed worker count. The pool's
// context descends from the parent passed at construction, so phase
// deadlines and cancellation reach every running task. Outcomes accumulate
// in memory, so Submit never deadlocks against collection no matter how
// many tasks are queued.
type Pool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	sendMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	outcomes []Outcome
}

// NewPool creates a pool of the given size under the parent context.
func NewPool(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers: workers,
		tasks:   make(chan Task, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			outcome := task.Run(p.ctx)
			p.mu.Lock()
			p.outcomes = append(p.outcomes, outcome)
			p.mu.Unlock()
		}
	}
}

// Submit queues a task. After Wait or Shutdown it returns without queuing.
func (p *Pool) Submit(task Task) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if p.closed {
		return
	}
	select {
	case <-p.ctx.Done():
	case p.tasks <- task:
	}
}

// Wait closes the queue, waits for all submitted tasks, and returns their
// outcomes. Order is completion order, not submission order.
func (p *Pool) Wait() []Outcome {
	p.closeTasks()
	p.wg.Wait()
	p.cancel()
	return p.collect()
}

// Shutdown cancels in-flight tasks and releases the workers. Outcomes of
// tasks that completed before the cancellation stay collectable via Wait.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeTasks()
}

func (p *Pool) closeTasks() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
}

func (p *Pool) collect() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Outcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}
