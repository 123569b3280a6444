package bridge

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateAwaitingStart, "AWAITING_START"},
		{StateResolvingContext, "RESOLVING_CONTEXT"},
		{StateConnectingAgent, "CONNECTING_AGENT"},
		{StateStreaming, "STREAMING"},
		{StateClosing, "CLOSING"},
		{StateClosed, "CLOSED"},
		{State(99), "State(99)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateAwaitingStart, StateResolvingContext},
		{StateResolvingContext, StateConnectingAgent},
		{StateConnectingAgent, StateStreaming},
		{StateStreaming, StateClosing},
		{StateClosing, StateClosed},
		// Every pre-terminal state can abort straight to CLOSING.
		{StateAwaitingStart, StateClosing},
		{StateResolvingContext, StateClosing},
		{StateConnectingAgent, StateClosing},
	}
	for _, tt := range allowed {
		if !canTransition(tt.from, tt.to) {
			t.Errorf("canTransition(%v, %v) = false, want true", tt.from, tt.to)
		}
	}

	forbidden := []struct{ from, to State }{
		{StateAwaitingStart, StateStreaming},
		{StateStreaming, StateAwaitingStart},
		{StateClosed, StateClosing},
		{StateClosed, StateStreaming},
		{StateClosing, StateStreaming},
		{StateResolvingContext, StateStreaming},
	}
	for _, tt := range forbidden {
		if canTransition(tt.from, tt.to) {
			t.Errorf("canTransition(%v, %v) = true, want false", tt.from, tt.to)
		}
	}
}
