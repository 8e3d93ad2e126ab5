package engine

import "fmt"

// State is the lifecycle of one materialization: Bound once the broker has
// returned a context, Running while the callback executes, then exactly one
// of Committed or Failed.
type State int

const (
	StateBound State = iota
	StateRunning
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state ends a materialization.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

func allowedTransition(from, to State) bool {
	switch from {
	case StateBound:
		return to == StateRunning || to == StateFailed
	case StateRunning:
		return to == StateCommitted || to == StateFailed
	default:
		return false
	}
}

// materialization tracks one in-flight run of a virtual array's callback.
type materialization struct {
	id    string
	name  string
	state State
}

// to performs a validated state transition. A disallowed transition is a
// bug in the engine, surfaced as an error rather than a panic.
func (m *materialization) to(next State) error {
	if !allowedTransition(m.state, next) {
		return fmt.Errorf("materialization %s of %s: disallowed transition %s -> %s",
			m.id, m.name, m.state, next)
	}
	m.state = next
	return nil
}
