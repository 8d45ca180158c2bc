package flags

import "fmt"

// State is where a Handle is in its lifecycle.
// Normal life cycle: Uninitialized -> Initializing -> Ready -> Closed.
// The ordering is such that if there is a transition from A -> B then A < B.
type State int32

const (
	// Uninitialized handles have no engine yet.
	Uninitialized State = iota
	// Initializing handles have an engine that has not received flag data yet.
	// Evaluations return the caller's default.
	Initializing
	// Ready is latched the first time the engine reports it is initialized.
	Ready
	// Closed is terminal. Evaluations return the caller's default.
	Closed
)

// States lists every state in lifecycle order.
var States = []State{Uninitialized, Initializing, Ready, Closed}

// ValidTransitions returns the states s may move to. Closed is terminal.
func (s State) ValidTransitions() []State {
	switch s {
	case Uninitialized:
		return []State{Initializing, Closed}
	case Initializing:
		return []State{Ready, Closed}
	case Ready:
		return []State{Closed}
	case Closed:
		return nil
	default:
		panic(fmt.Sprintf("unknown state: %d", s))
	}
}

// ValidTransition reports whether s may move to to.
func (s State) ValidTransition(to State) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == to {
			return true
		}
	}
	return false
}

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Initializing:
		return "INITIALIZING"
	case Ready:
		return "READY"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}
