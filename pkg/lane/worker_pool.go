package lane

import (
	"sync"
	"sync/atomic"
)

// WorkerPool runs a fixed number of goroutines draining a task channel.
type WorkerPool struct {
	maxWorkers int
	taskCh     <-chan Task
	workerFn   func(Task)

	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	tasksProcessed atomic.Int64
}

// NewWorkerPool creates a pool that applies workerFn to every task read from
// taskCh. Workers exit once taskCh is closed and drained.
func NewWorkerPool(maxWorkers int, taskCh <-chan Task, workerFn func(Task)) *WorkerPool {
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskCh:     taskCh,
		workerFn:   workerFn,
	}
}

// Start starts the workers.
func (p *WorkerPool) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Wait blocks until every worker returned. The task channel must be closed
// by the owner first.
func (p *WorkerPool) Wait() {
	p.stopOnce.Do(func() {
		p.wg.Wait()
		p.running.Store(false)
	})
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.taskCh {
		p.workerFn(task)
		p.tasksProcessed.Add(1)
	}
}

// TasksProcessed returns the total number of tasks processed.
func (p *WorkerPool) TasksProcessed() int64 {
	return p.tasksProcessed.Load()
}

// IsRunning returns true while workers are alive.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
