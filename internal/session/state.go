package session

// State is the lifecycle position of a Handle.
//
//	Unresolved → Resolving → Connecting → Connected ⇄ Degraded → Disconnected
//	any state → Failed
//
// Disconnected and Failed are terminal: a new Handle is needed afterwards.
type State int

// Handle states.
const (
	StateUnresolved State = iota
	StateResolving
	StateConnecting
	StateConnected
	StateDegraded
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// hasTransport reports whether a transport is attached in this state.
func (s State) hasTransport() bool {
	return s == StateConnected || s == StateDegraded
}
