package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("engine is already running")

// ShuttingDownError is returned when spikes are emitted after shutdown.
type ShuttingDownError struct {
	Signal string
}

func (e *ShuttingDownError) Error() string {
	return fmt.Sprintf("engine is shutting down, dropped signal %q", e.Signal)
}

// StateExistsError is returned when a state name is registered twice.
type StateExistsError struct {
	Name string
}

func (e *StateExistsError) Error() string {
	return fmt.Sprintf("state %q already registered", e.Name)
}

// UnknownStateError is returned when a state name is not registered.
type UnknownStateError struct {
	Name string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("state %q not registered", e.Name)
}

// UnknownPropertyError is returned when a state declares a property that
// does not exist.
type UnknownPropertyError struct {
	State    string
	Property string
}

func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("state %q references unknown property %q", e.State, e.Property)
}

// PropertyExistsError is returned when a root property path is taken.
type PropertyExistsError struct {
	Path string
}

func (e *PropertyExistsError) Error() string {
	return fmt.Sprintf("property %q already registered", e.Path)
}

// ModuleRegistrationError wraps a failure while registering a module.
type ModuleRegistrationError struct {
	Module string
	Cause  error
}

func (e *ModuleRegistrationError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e *ModuleRegistrationError) Unwrap() error { return e.Cause }

// IsUnknownStateError reports whether err is or wraps an *UnknownStateError.
func IsUnknownStateError(err error) bool {
	var target *UnknownStateError
	return errors.As(err, &target)
}

// IsShuttingDownError reports whether err is or wraps a *ShuttingDownError.
func IsShuttingDownError(err error) bool {
	var target *ShuttingDownError
	return errors.As(err, &target)
}
