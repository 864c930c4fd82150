package engine

import "fmt"

// ValidationError reports bad client input: unknown topic or persona,
// participant count out of range. The discussion and any task state are
// unaffected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StateError reports a lifecycle operation attempted from the wrong state.
// No mutation is performed.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return e.Reason
}

func stateErrorf(format string, args ...any) *StateError {
	return &StateError{Reason: fmt.Sprintf(format, args...)}
}
