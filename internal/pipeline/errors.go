package pipeline

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when an operation of the same kind is already in
// flight for the session. Duplicate submissions are rejected, not queued.
var ErrBusy = errors.New("operation already in flight")

// ErrNoSelection is returned by ReplacePreview when nothing is selected.
var ErrNoSelection = errors.New("no selection")

// ErrSessionNotFound is returned by the manager for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ErrSuperseded is returned when a re-import landed while the operation
// was at the backend. The result belongs to the replaced take and is
// discarded.
var ErrSuperseded = errors.New("session re-imported during operation")

// StateError reports an operation invoked out of order. The session
// stays at its current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// ValidationError reports invalid request parameters caught before any
// network call is issued.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}
