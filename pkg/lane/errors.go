package lane

import (
	"errors"
	"fmt"
)

// LaneFullError is returned by Submit when ctx ended while every queue slot
// was taken. Cause is the context error.
type LaneFullError struct {
	LaneName string
	Capacity int
	Cause    error
}

func (e *LaneFullError) Error() string {
	return fmt.Sprintf("lane %s stayed full (%d queued firings): %v", e.LaneName, e.Capacity, e.Cause)
}

func (e *LaneFullError) Unwrap() error { return e.Cause }

// LaneClosedError is returned when submitting to a closed lane.
type LaneClosedError struct {
	LaneName string
}

func (e *LaneClosedError) Error() string {
	return fmt.Sprintf("lane %s is closed", e.LaneName)
}

// TaskPanicError carries a panic recovered from a task.
type TaskPanicError struct {
	LaneName string
	TaskID   string
	Value    any
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task %s panicked in lane %s: %v", e.TaskID, e.LaneName, e.Value)
}

func IsLaneFullError(err error) bool {
	var target *LaneFullError
	return errors.As(err, &target)
}

func IsLaneClosedError(err error) bool {
	var target *LaneClosedError
	return errors.As(err, &target)
}
