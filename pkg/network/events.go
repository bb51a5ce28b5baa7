package network

import (
	"fmt"
	"time"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// EventType identifies what a connection is reporting.
type EventType int

const (
	// EventReady is emitted once after the handshake succeeds and queued
	// writes were flushed.
	EventReady EventType = iota + 1

	// EventData carries one verified inbound packet.
	EventData

	// EventRejected reports an inbound frame that was dropped. The
	// connection keeps running.
	EventRejected

	// EventHandshakeError carries the peer's *protocol.HandshakeError.
	EventHandshakeError

	// EventClosed is always the last event. Err is nil for local closes
	// and benign disconnects.
	EventClosed
)

// String returns the event name.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventData:
		return "data"
	case EventRejected:
		return "rejected"
	case EventHandshakeError:
		return "handshake_error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is a connection notification.
type Event struct {
	Type EventType

	// Packet is set for EventData.
	Packet *protocol.Packet

	// Err is set for EventRejected, EventHandshakeError and for
	// EventClosed caused by a failure.
	Err error

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// IsError returns true if this event represents an error condition.
func (e Event) IsError() bool {
	return e.Err != nil
}
