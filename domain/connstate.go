package domain

// ConnectionState represents the lifecycle of the single physical connection.
type ConnectionState int

const (
	// Disconnected means no connection exists and none is being attempted.
	Disconnected ConnectionState = iota

	// Connecting means a first dial is in flight.
	Connecting

	// Connected means the transport is open and operations are accepted.
	Connected

	// Reconnecting means the transport dropped and redial attempts remain.
	Reconnecting

	// Failed means redial attempts are exhausted; only an explicit
	// Connect restarts the machine.
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition encodes the legal edges of the connection state machine.
// Disconnect is legal from every state, so any transition to Disconnected
// is accepted.
func CanTransition(from, to ConnectionState) bool {
	if to == Disconnected {
		return true
	}
	switch from {
	case Disconnected, Failed:
		return to == Connecting
	case Connecting:
		return to == Connected || to == Reconnecting || to == Failed || to == Connecting
	case Connected:
		return to == Reconnecting
	case Reconnecting:
		return to == Connected || to == Failed || to == Reconnecting
	default:
		return false
	}
}
