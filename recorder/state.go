package recorder

import (
	"errors"
	"fmt"
)

type State int

const (
	Uninitialized State = iota
	Ready
	Recording
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type StateChange struct {
	From State
	To   State
}

var (
	ErrInvalidState         = errors.New("recorder: invalid state transition")
	ErrPermissionDenied     = errors.New("recorder: permission denied")
	ErrInitializationFailed = errors.New("recorder: initialization failed")
)

// InvalidStateError reports an operation attempted from a state that does
// not allow it. It matches ErrInvalidState.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("recorder: cannot %s while %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// allowed lists the states each operation may start from.
var allowed = map[string][]State{
	"initialize": {Uninitialized},
	"start":      {Ready, Stopped},
	"pause":      {Recording},
	"resume":     {Paused},
	"stop":       {Recording, Paused},
}

func check(op string, s State) error {
	for _, ok := range allowed[op] {
		if s == ok {
			return nil
		}
	}
	return &InvalidStateError{Op: op, State: s}
}
