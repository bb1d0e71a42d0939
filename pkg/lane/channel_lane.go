package lane

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/spikeflow/spikeflow/pkg/logger"
)

// MetricsRecorder receives lane measurements.
type MetricsRecorder interface {
	IncQueueDepth(laneName string)
	DecQueueDepth(laneName string)
	RecordWaitDuration(laneName string, duration time.Duration)
	RecordThroughput(laneName string)
}

// ChannelLane implements Lane with a buffered channel and a worker pool.
type ChannelLane struct {
	config     *Config
	taskCh     chan Task
	workerPool *WorkerPool
	limiter    *rate.Limiter
	metrics    MetricsRecorder
	log        logger.Logger

	// mu guards taskCh against sends after close.
	mu     sync.RWMutex
	closed atomic.Bool

	pending   atomic.Int32
	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	totalProcessTime atomic.Int64
	taskCount        atomic.Int64
}

// LaneOption configures a ChannelLane.
type LaneOption func(*ChannelLane)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) LaneOption {
	return func(l *ChannelLane) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithLogger sets the logger used for task failures.
func WithLogger(log logger.Logger) LaneOption {
	return func(l *ChannelLane) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a ChannelLane and starts its workers.
func New(config *Config, opts ...LaneOption) (*ChannelLane, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &ChannelLane{
		config:  config,
		taskCh:  make(chan Task, config.Capacity),
		metrics: nopMetrics{},
		log:     logger.Global(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With("component", "lane", "lane", config.Name)

	if config.RateLimit > 0 {
		burst := int(config.RateLimit * 2)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	l.workerPool = NewWorkerPool(config.MaxConcurrency, l.taskCh, l.executeTask)
	l.workerPool.Start()
	return l, nil
}

// Name returns the lane name.
func (l *ChannelLane) Name() string {
	return l.config.Name
}

// Submit queues task, blocking until there is room or ctx is done.
func (l *ChannelLane) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed.Load() {
		return &LaneClosedError{LaneName: l.config.Name}
	}

	select {
	case l.taskCh <- task:
		l.admitted()
		return nil
	case <-ctx.Done():
		l.rejected.Add(1)
		return &LaneFullError{LaneName: l.config.Name, Capacity: l.config.Capacity, Cause: ctx.Err()}
	}
}

// TrySubmit queues task without blocking.
func (l *ChannelLane) TrySubmit(task Task) bool {
	if task == nil {
		return false
	}
	if l.limiter != nil && !l.limiter.Allow() {
		l.rejected.Add(1)
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed.Load() {
		return false
	}

	select {
	case l.taskCh <- task:
		l.admitted()
		return true
	default:
		l.rejected.Add(1)
		return false
	}
}

func (l *ChannelLane) admitted() {
	l.pending.Add(1)
	l.metrics.IncQueueDepth(l.config.Name)
}

func (l *ChannelLane) executeTask(task Task) {
	l.pending.Add(-1)
	l.metrics.DecQueueDepth(l.config.Name)

	if tw, ok := task.(interface{ EnqueuedAt() time.Time }); ok {
		l.metrics.RecordWaitDuration(l.config.Name, time.Since(tw.EnqueuedAt()))
	}

	l.running.Add(1)
	defer l.running.Add(-1)

	start := time.Now()
	err := l.run(task)
	l.totalProcessTime.Add(int64(time.Since(start)))
	l.taskCount.Add(1)

	if err != nil {
		l.failed.Add(1)
		l.log.Error("task failed", "task", task.ID(), "error", err)
	} else {
		l.completed.Add(1)
	}
	l.metrics.RecordThroughput(l.config.Name)
}

func (l *ChannelLane) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskPanicError{LaneName: l.config.Name, TaskID: task.ID(), Value: r}
		}
	}()
	return task.Execute(context.Background())
}

// Stats returns current lane statistics.
func (l *ChannelLane) Stats() Stats {
	stats := Stats{
		Name:           l.config.Name,
		Pending:        int(l.pending.Load()),
		Running:        int(l.running.Load()),
		Completed:      l.completed.Load(),
		Failed:         l.failed.Load(),
		Rejected:       l.rejected.Load(),
		Capacity:       l.config.Capacity,
		MaxConcurrency: l.config.MaxConcurrency,
	}
	if count := l.taskCount.Load(); count > 0 {
		stats.ProcessTime = time.Duration(l.totalProcessTime.Load() / count)
	}
	return stats
}

// Close stops admissions and waits for the workers to drain the queue or for
// ctx to end.
func (l *ChannelLane) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return nil
	}
	l.closed.Store(true)
	close(l.taskCh)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.workerPool.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsClosed returns true if the lane is closed.
func (l *ChannelLane) IsClosed() bool {
	return l.closed.Load()
}

type nopMetrics struct{}

func (nopMetrics) IncQueueDepth(string)                     {}
func (nopMetrics) DecQueueDepth(string)                     {}
func (nopMetrics) RecordWaitDuration(string, time.Duration) {}
func (nopMetrics) RecordThroughput(string)                  {}
