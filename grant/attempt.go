package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-paygrants/core"
)

var ErrInvalidAttemptTransition = errors.New("grant: invalid attempt state transition")

type State string

const (
	StateIdle                  State = "idle"
	StateRequested             State = "requested"
	StateNonInteractiveGranted State = "non_interactive_granted"
	StatePendingInteraction    State = "pending_interaction"
	StateContinuing            State = "continuing"
	StateGranted               State = "granted"
	StateCancelled             State = "cancelled"
	StateFailed                State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateGranted, StateNonInteractiveGranted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Attempt tracks one grant negotiation from request to final token.
type Attempt struct {
	Kind      core.GrantKind
	Intent    core.Intent
	State     State
	LastError string
	UpdatedAt time.Time
}

func NewAttempt(kind core.GrantKind, intent core.Intent, now time.Time) *Attempt {
	return &Attempt{Kind: kind, Intent: intent, State: StateIdle, UpdatedAt: now}
}

// ResumeAttempt rebuilds an attempt for a grant that is already waiting on
// user interaction.
func ResumeAttempt(kind core.GrantKind, intent core.Intent, now time.Time) *Attempt {
	return &Attempt{Kind: kind, Intent: intent, State: StatePendingInteraction, UpdatedAt: now}
}

func (a *Attempt) TransitionTo(state State, now time.Time) error {
	if a == nil {
		return nil
	}
	if a.State == state {
		a.UpdatedAt = now
		return nil
	}
	if !attemptTransitionAllowed(a.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidAttemptTransition, a.State, state)
	}
	a.State = state
	a.UpdatedAt = now
	return nil
}

// Abort ends a non-terminal attempt. User-driven endings (closing the tab,
// rejecting the grant) count as cancelled, everything else as failed.
func (a *Attempt) Abort(cause error, now time.Time) {
	if a == nil || a.State.Terminal() {
		return
	}
	next := StateFailed
	if errors.Is(cause, core.ErrTabClosed) || errors.Is(cause, core.ErrGrantRejected) {
		next = StateCancelled
	}
	a.State = next
	a.UpdatedAt = now
	if cause != nil {
		a.LastError = cause.Error()
	}
}

func attemptTransitionAllowed(current, next State) bool {
	if next == StateCancelled || next == StateFailed {
		return !current.Terminal()
	}
	allowed := map[State]map[State]struct{}{
		StateIdle: {
			StateRequested: {},
		},
		StateRequested: {
			StateNonInteractiveGranted: {},
			StatePendingInteraction:    {},
		},
		StatePendingInteraction: {
			StateContinuing: {},
		},
		StateContinuing: {
			StateGranted: {},
		},
	}
	targets, ok := allowed[current]
	if !ok {
		return false
	}
	_, ok = targets[next]
	return ok
}
