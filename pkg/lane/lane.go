// Package lane provides the firing lane: a bounded queue drained by a fixed
// worker pool on which state bodies run, off the tick goroutine.
//
// Basic usage:
//
//	l, err := lane.New(&lane.Config{
//	    Name:           "firing",
//	    Capacity:       256,
//	    MaxConcurrency: 8,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Close(context.Background())
//
//	l.TrySubmit(lane.NewTaskFunc("act-1", func(ctx context.Context) error {
//	    return nil
//	}))
package lane

import (
	"context"
	"fmt"
	"time"
)

// Task is a unit of work executed by a lane worker.
type Task interface {
	ID() string
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc struct {
	id         string
	fn         func(ctx context.Context) error
	enqueuedAt time.Time
}

// NewTaskFunc creates a TaskFunc.
func NewTaskFunc(id string, fn func(ctx context.Context) error) *TaskFunc {
	return &TaskFunc{id: id, fn: fn, enqueuedAt: time.Now()}
}

// ID implements Task.
func (t *TaskFunc) ID() string { return t.id }

// EnqueuedAt returns when the task was created.
func (t *TaskFunc) EnqueuedAt() time.Time { return t.enqueuedAt }

// Execute runs the function.
func (t *TaskFunc) Execute(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("task function is nil")
	}
	return t.fn(ctx)
}

// Config holds the configuration for a Lane.
type Config struct {
	// Name identifies the lane in logs and metrics.
	Name string

	// Capacity is the maximum number of queued tasks.
	Capacity int

	// MaxConcurrency is the number of workers.
	MaxConcurrency int

	// RateLimit caps admissions per second, 0 = unlimited.
	RateLimit float64
}

// Validate validates the lane configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("lane name cannot be empty")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("lane capacity must be positive, got %d", c.Capacity)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	return nil
}

// Lane is a bounded execution queue.
type Lane interface {
	Name() string

	// Submit queues task, waiting for room or rate budget until ctx ends.
	Submit(ctx context.Context, task Task) error

	// TrySubmit queues task without blocking and reports whether it was
	// accepted.
	TrySubmit(task Task) bool

	Stats() Stats

	// Close stops admissions and waits for queued tasks to finish.
	Close(ctx context.Context) error

	IsClosed() bool
}

// Stats holds statistics for a Lane.
type Stats struct {
	Name           string        `json:"name"`
	Pending        int           `json:"pending"`
	Running        int           `json:"running"`
	Completed      int64         `json:"completed"`
	Failed         int64         `json:"failed"`
	Rejected       int64         `json:"rejected"`
	Capacity       int           `json:"capacity"`
	MaxConcurrency int           `json:"max_concurrency"`
	ProcessTime    time.Duration `json:"process_time_ns"`
}

// Utilization returns the current utilization ratio (0.0 - 1.0).
func (s Stats) Utilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Pending+s.Running) / float64(s.Capacity+s.MaxConcurrency)
}

// IsFull returns true if the queue is at capacity.
func (s Stats) IsFull() bool {
	return s.Pending >= s.Capacity
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"Stats{Name: %s, Pending: %d, Running: %d, Completed: %d, Failed: %d, Rejected: %d, Utilization: %.2f%%}",
		s.Name, s.Pending, s.Running, s.Completed, s.Failed, s.Rejected, s.Utilization()*100,
	)
}
