// Package session implements the call session state machine.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a call session.
type State int

const (
	// StateIdle is the zero value. Sessions never rest here; they begin at DIALING.
	StateIdle State = iota
	// StateDialing - call creation request issued, no external id confirmed yet.
	StateDialing
	// StateConnecting - provider accepted the call, waiting for it to go live.
	StateConnecting
	// StateActive - call is live.
	StateActive
	// StateEnded - terminal. The session only awaits removal.
	StateEnded
)

// String returns the wire representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// IsTerminal returns true if no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateEnded
}

// Errors for rejected transitions and intents.
var (
	ErrSessionEnded      = errors.New("session has ended")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingExternalID = errors.New("transition requires an external call id")
	ErrSkippedConnecting = errors.New("cannot reach active without connecting")
	ErrUnknownIntent     = errors.New("unknown intent")
)

// Lifecycle guards the state machine for a single call session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	DIALING → CONNECTING → ACTIVE → ENDED
//	   │           │
//	   └───────────┴──────────────→ ENDED (failure path)
//
// Rules:
//   - CONNECTING and ACTIVE require a known external call id
//   - ACTIVE is only reachable from CONNECTING
//   - ENDED is reachable from every non-terminal state and is final
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in DIALING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateDialing}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsEnded returns true once the session reached ENDED.
func (l *Lifecycle) IsEnded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Transition validates and applies a move to the given state.
// hasExternalID reports whether the provider has assigned a call id.
func (l *Lifecycle) Transition(to State, hasExternalID bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrSessionEnded
	}

	switch to {
	case StateConnecting:
		if l.state != StateDialing {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
		}
		if !hasExternalID {
			return ErrMissingExternalID
		}
	case StateActive:
		if l.state == StateDialing {
			return ErrSkippedConnecting
		}
		if l.state != StateConnecting {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
		}
		if !hasExternalID {
			return ErrMissingExternalID
		}
	case StateEnded:
		// any non-terminal state may end
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}

	l.state = to
	return nil
}
