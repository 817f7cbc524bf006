package transport

// State is the connection lifecycle of the channel. Owned solely by Conn;
// other components observe transitions through StateChange events.
type State int

const (
	// StateDisconnected means the channel is down. Presence and typing
	// data are stale; the message stream and room identity are retained.
	StateDisconnected State = iota

	// StateConnecting means a dial or reconnect attempt is in progress.
	StateConnecting

	// StateConnected means the channel is up and intents can be sent.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// StateChange reports a connection lifecycle transition. Err carries the
// cause when the transition was driven by a failure.
type StateChange struct {
	Old State
	New State
	Err error
}

// Inbound wraps a decoded server push event.
type Inbound struct {
	Payload any
}
