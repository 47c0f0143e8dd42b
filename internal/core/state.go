package core

import (
	"errors"
	"fmt"
	"slices"
)

// State is a step of an import session.
type State string

const (
	StateNew                State = "new"
	StateSourceLoaded       State = "source_loaded"
	StateMapped             State = "mapped"
	StateReferencesResolved State = "references_resolved"
	StateValidated          State = "validated"
	StatePreviewed          State = "previewed"
	StateMediaResolved      State = "media_resolved"
	StateImported           State = "imported"
)

// ErrInvalidTransition is returned when an operation is not legal in the
// session's current state.
var ErrInvalidTransition = errors.New("operation not allowed in current state")

// ErrSessionBusy is returned while another operation on the session runs.
var ErrSessionBusy = errors.New("session is busy with another operation")

// transitions lists the legal target states of each state.
var transitions = map[State][]State{
	StateNew:                {StateSourceLoaded},
	StateSourceLoaded:       {StateMapped},
	StateMapped:             {StateMapped, StateReferencesResolved},
	StateReferencesResolved: {StateMapped, StateValidated},
	StateValidated:          {StateMapped, StateValidated, StatePreviewed},
	StatePreviewed:          {StateValidated, StateMediaResolved, StateImported},
	StateMediaResolved:      {StateMediaResolved, StateImported},
	StateImported:           nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// transitionError wraps ErrInvalidTransition with the offending states.
func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
