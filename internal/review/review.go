// Package review tracks the review artifacts dispatched sessions open and
// waits for them to reach a terminal state.
package review

import (
	"context"
	"errors"
)

// State is the lifecycle state of a review artifact.
type State string

const (
	StateOpen   State = "open"
	StateMerged State = "merged"
	StateClosed State = "closed"
)

// ErrUnknownState is returned when a provider reports a state outside
// open, merged and closed.
var ErrUnknownState = errors.New("unknown review state")

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateMerged || s == StateClosed
}

// StatusProvider reports the current state of the review artifact at ref.
type StatusProvider interface {
	Status(ctx context.Context, ref string) (State, error)
}
