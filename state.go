package reactor

import (
	"go.uber.org/atomic"
)

// LoopState represents the current state of the event loop.
//
// State Machine:
//
//	StateIdle → StateRunning       [Run()]
//	StateIdle → StateQuitting      [Quit() before Run()]
//	StateRunning → StateQuitting   [Quit()]
//	StateQuitting → StateStopped   [Run() returns]
//	StateStopped → (terminal)
//
// Only Run stores StateStopped, every other transition is a CAS.
type LoopState uint32

const (
	// StateIdle indicates the loop has been created but not started.
	StateIdle LoopState = iota
	// StateRunning indicates the loop is dispatching.
	StateRunning
	// StateQuitting indicates Quit was requested but not yet observed.
	StateQuitting
	// StateStopped indicates Run has returned.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateQuitting:
		return "Quitting"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free state holder, safe for use from any goroutine.
type loopState struct {
	v atomic.Uint32
}

// Load returns the current state atomically.
func (s *loopState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without validating the transition.
func (s *loopState) Store(state LoopState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CAS(uint32(from), uint32(to))
}

// TransitionAny attempts to transition from any of validFrom to the target,
// returning the state it transitioned from.
func (s *loopState) TransitionAny(validFrom []LoopState, to LoopState) (LoopState, bool) {
	for {
		current := s.Load()
		valid := false
		for _, from := range validFrom {
			if current == from {
				valid = true
				break
			}
		}
		if !valid {
			return current, false
		}
		if s.TryTransition(current, to) {
			return current, true
		}
	}
}
