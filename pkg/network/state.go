package network

import "fmt"

// ConnState is the lifecycle state of a Connection.
type ConnState int

const (
	// StateConnecting is a connection whose transport is not open yet.
	StateConnecting ConnState = iota

	// StateAwaitingHandshakeReply means the greeting was sent and the
	// peer's reply has not been fully received.
	StateAwaitingHandshakeReply

	// StateReady means the handshake succeeded and frames flow.
	StateReady

	// StateClosed is terminal. Handshake failures also end here.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAwaitingHandshakeReply:
		return "AwaitingHandshakeReply"
	case StateReady:
		return "Ready"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal reports whether no further transitions can happen.
func (s ConnState) IsTerminal() bool {
	return s == StateClosed
}
