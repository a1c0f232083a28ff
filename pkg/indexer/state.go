package indexer

import "fmt"

// State is the lifecycle state of the index builder
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

var stateNames = map[State]string{
	StateStopped:  "Stopped",
	StateStarting: "Starting",
	StateRunning:  "Running",
	StateStopping: "Stopping",
	StateFailed:   "Failed",
}

// String implements fmt.Stringer
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

func allStateNames() []string {
	return []string{"Stopped", "Starting", "Running", "Stopping", "Failed"}
}

// Mode selects how handler failures are treated
type Mode string

const (
	// ModeStrict aborts the block and fails the pipeline on the first handler error
	ModeStrict Mode = "strict"

	// ModeLenient logs and skips a failed event, discarding only its writes
	ModeLenient Mode = "lenient"
)

// ParseMode parses a mode name; empty means strict
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	default:
		return "", fmt.Errorf("invalid mode %q (valid: strict, lenient)", s)
	}
}
