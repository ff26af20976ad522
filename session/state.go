package session

import "fmt"

// State is the lifecycle state of the managed session.
type State int

const (
	// StateNone means no session object exists.
	StateNone State = iota
	// StateUnlocked means the private key is resident.
	StateUnlocked
	// StateLocked means the session is known but the private key is not resident.
	StateLocked
	// StateExpired is terminal. Persisted data has been cleared.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether the state holds a session that can be ended or extended.
func (s State) Live() bool {
	return s == StateUnlocked || s == StateLocked
}

// MarshalText encodes the state as its string name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by String.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = StateNone
	case "unlocked":
		*s = StateUnlocked
	case "locked":
		*s = StateLocked
	case "expired":
		*s = StateExpired
	default:
		return fmt.Errorf("%w: unknown session state %q", ErrInvalidArgument, string(b))
	}
	return nil
}
