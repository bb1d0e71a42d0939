package activation

import (
	"fmt"
	"runtime/debug"
)

// PanicError is returned by Fire when a state body panics.
type PanicError struct {
	State string
	Value any
	Stack []byte
}

func newPanicError(state string, v any) *PanicError {
	return &PanicError{State: state, Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("state %q panicked: %v", e.State, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
