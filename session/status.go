package session

import (
	"errors"
	"fmt"
	"slices"
)

// Status is the lifecycle state of a checkout session.
type Status string

const (
	StatusIncomplete         Status = "incomplete"
	StatusReadyForComplete   Status = "ready_for_complete"
	StatusCompleteInProgress Status = "complete_in_progress"
	StatusCompleted          Status = "completed"
	StatusRequiresEscalation Status = "requires_escalation"
	StatusCanceled           Status = "canceled"
)

var (
	// ErrIllegalTransition is returned when a status change is not allowed
	// from the current status, or its preconditions are not met.
	ErrIllegalTransition = errors.New("session: illegal state transition")
	// ErrStateLocked is returned when a field feeding the checkout state hash
	// is changed after mandates were verified.
	ErrStateLocked = errors.New("session: checkout state is locked after mandate verification")
)

var transitions = map[Status][]Status{
	StatusIncomplete: {
		StatusIncomplete,
		StatusReadyForComplete,
		StatusCanceled,
	},
	StatusReadyForComplete: {
		StatusIncomplete,
		StatusReadyForComplete,
		StatusCompleteInProgress,
		StatusRequiresEscalation,
		StatusCanceled,
	},
	StatusCompleteInProgress: {
		StatusCompleted,
		StatusRequiresEscalation,
	},
	StatusRequiresEscalation: {
		StatusIncomplete,
		StatusReadyForComplete,
		StatusCompleteInProgress,
		StatusCanceled,
	},
	StatusCompleted: nil,
	StatusCanceled:  nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransition reports whether to is reachable from s in one step.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// CheckTransition returns an error wrapping [ErrIllegalTransition] when to is
// not reachable from from.
func CheckTransition(from, to Status) error {
	if !from.CanTransition(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session: cannot move from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("session: cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }
