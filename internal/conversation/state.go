// Package conversation holds the per-call conversation state: the finite
// state machine that gates what the agent may do in each phase, and the
// ordered turn history the LLM prompt is built from.
package conversation

import (
	"log/slog"
	"sync"
)

// State is a phase of the conversation lifecycle.
type State int

const (
	// StateIdle is the initial state before the session starts.
	StateIdle State = iota

	// StateListening means the agent is waiting for user speech.
	StateListening

	// StateProcessing means a response is being generated.
	StateProcessing

	// StateSpeaking means synthesized audio is being played to the user.
	StateSpeaking

	// StateInterrupted is the transient state entered on barge-in.
	StateInterrupted

	// StateEnded is terminal; no transition leaves it.
	StateEnded
)

// String returns the state label used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// validTransitions is the complete transition table. Ended is reachable from
// every non-terminal state and appears in each row rather than as a special
// case, so the table alone answers validity.
var validTransitions = map[State]map[State]bool{
	StateIdle:        {StateListening: true, StateEnded: true},
	StateListening:   {StateProcessing: true, StateSpeaking: true, StateInterrupted: true, StateEnded: true},
	StateProcessing:  {StateSpeaking: true, StateInterrupted: true, StateListening: true, StateEnded: true},
	StateSpeaking:    {StateListening: true, StateInterrupted: true, StateEnded: true},
	StateInterrupted: {StateListening: true, StateProcessing: true, StateEnded: true},
	StateEnded:       {},
}

// FSM validates conversation state transitions. Methods are safe for
// concurrent use; readers may observe a state that is about to change, which
// callers tolerate because transitions within a phase are monotonic.
type FSM struct {
	mu    sync.Mutex
	state State
}

// NewFSM builds an FSM in [StateIdle].
func NewFSM() *FSM {
	return &FSM{state: StateIdle}
}

// State returns the current state.
func (m *FSM) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state if the transition table allows it.
// It returns false and leaves the state unchanged otherwise. Every attempt
// is logged with the old and new state and the caller's reason.
func (m *FSM) Transition(to State, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !validTransitions[m.state][to] {
		slog.Warn("conversation: invalid transition rejected",
			"from", m.state, "to", to, "reason", reason)
		return false
	}

	slog.Debug("conversation: state transition",
		"from", m.state, "to", to, "reason", reason)
	m.state = to
	return true
}

// CanSpeak reports whether synthesized audio may be played now.
func (m *FSM) CanSpeak() bool {
	switch m.State() {
	case StateListening, StateProcessing, StateSpeaking:
		return true
	default:
		return false
	}
}

// CanInterrupt reports whether a barge-in may be handled now. Listening is
// included because frontend playback can still be audible after the backend
// already returned to listening.
func (m *FSM) CanInterrupt() bool {
	switch m.State() {
	case StateSpeaking, StateProcessing, StateListening:
		return true
	default:
		return false
	}
}

// CanProcess reports whether a new user utterance may start a generation.
func (m *FSM) CanProcess() bool {
	switch m.State() {
	case StateListening, StateInterrupted:
		return true
	default:
		return false
	}
}

// Reset returns the machine to [StateIdle] regardless of current state.
// Used only during session teardown.
func (m *FSM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		slog.Debug("conversation: fsm reset", "from", m.state)
	}
	m.state = StateIdle
}
