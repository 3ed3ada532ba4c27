package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for requests made after Close
	ErrClosed = errors.New("cluster manager closed")

	// ErrInvalidNode is returned for a node index outside the registry
	ErrInvalidNode = errors.New("invalid node index")

	// ErrInvalidTransition is returned when a state change is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is the connection lifecycle state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribing
	StateStreaming
	StateClosing
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateAuthenticating: "authenticating",
	StateSubscribing:    "subscribing",
	StateStreaming:      "streaming",
	StateClosing:        "closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connected reports whether a socket is open in this state
func (s State) Connected() bool {
	return s == StateAuthenticating || s == StateSubscribing || s == StateStreaming
}

var transitions = map[State][]State{
	StateIdle:           {StateConnecting, StateClosing},
	StateConnecting:     {StateAuthenticating, StateIdle, StateClosing},
	StateAuthenticating: {StateSubscribing, StateIdle, StateClosing},
	StateSubscribing:    {StateStreaming, StateIdle, StateClosing},
	StateStreaming:      {StateIdle, StateClosing},
	StateClosing:        nil,
}

// CanTransition reports whether from → to is an allowed change
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
