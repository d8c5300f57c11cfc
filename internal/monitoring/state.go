package monitoring

import "fmt"

// State is the lifecycle state of a Session.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota
	// StateStarting means the pairing is being validated and subscribed.
	StateStarting
	// StateActive means the alert subscription is live.
	StateActive
	// StateReconnecting means the subscription failed and a resubscribe is
	// pending.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateStarting, StateActive, StateReconnecting} {
		if string(text) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown monitoring state %q", text)
}

// running reports whether the session owns a pairing.
func (s State) running() bool {
	return s == StateActive || s == StateReconnecting
}
