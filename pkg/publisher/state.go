package publisher

// State is a Connection lifecycle state.
type State uint8

const (
	// StateConnecting is the state of a freshly accepted connection.
	StateConnecting State = iota

	// StateAuthenticating waits for Authenticate and Subscribe. It is the
	// only state that accepts Authenticate.
	StateAuthenticating

	// StateSubscribed routes data to the subscriber.
	StateSubscribed

	// StateUnsubscribed keeps the signal cache but routes no data.
	StateUnsubscribed

	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}
