package lens

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCallState indicates an instance call was made without a receiver.
	ErrInvalidCallState = errors.New("invalid call state")
	// ErrUnsupportedType indicates a type descriptor kind outside the supported set.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrArgumentCountMismatch indicates the supplied argument count differs from the declared parameters.
	ErrArgumentCountMismatch = errors.New("argument count mismatch")
	// ErrNoFunctionBody is returned when a gate is requested for a declaration without a body.
	ErrNoFunctionBody = errors.New("function has no body")
	// ErrUnknownParameter indicates a source directive names a parameter the function does not declare.
	ErrUnknownParameter = errors.New("unknown parameter")
)

// GateError is raised (as a panic value) when an intercepted call cannot be gated, since the wrapped
// signature provides no error return to propagate through.
type GateError struct {
	Function string
	Err      error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate %s: %v", e.Function, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}
