package session

// State is the read-side phase of a session.
type State int32

const (
	StateAwaitingLength State = iota
	StateAwaitingBody
	StateDispatching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingLength:
		return "awaiting_length"
	case StateAwaitingBody:
		return "awaiting_body"
	case StateDispatching:
		return "dispatching"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
