package bridge

import "fmt"

// State is the lifecycle state of one call session. A session is in exactly
// one state at all times; audio is only relayed while [StateStreaming].
type State int

const (
	// StateAwaitingStart: connection accepted, no start event yet.
	StateAwaitingStart State = iota

	// StateResolvingContext: start received, directory lookup in progress.
	StateResolvingContext

	// StateConnectingAgent: credential fetch, outbound open and one-time
	// config send.
	StateConnectingAgent

	// StateStreaming: audio flowing in both directions.
	StateStreaming

	// StateClosing: teardown in progress, both peers being closed.
	StateClosing

	// StateClosed: terminal. Entering it fires the post-call notification
	// exactly once.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "AWAITING_START"
	case StateResolvingContext:
		return "RESOLVING_CONTEXT"
	case StateConnectingAgent:
		return "CONNECTING_AGENT"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validNext lists the permitted transitions. Every state may jump to
// CLOSING: peers can drop at any point in the lifecycle.
var validNext = map[State][]State{
	StateAwaitingStart:    {StateResolvingContext, StateClosing},
	StateResolvingContext: {StateConnectingAgent, StateClosing},
	StateConnectingAgent:  {StateStreaming, StateClosing},
	StateStreaming:        {StateClosing},
	StateClosing:          {StateClosed},
	StateClosed:           {},
}

// canTransition reports whether from → to is a permitted transition.
func canTransition(from, to State) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
