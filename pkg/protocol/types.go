package protocol

import (
	"fmt"
	"time"
)

// Protocol constants
const (
	// Greeting version sent during the handshake (v2.0)
	ProtocolMajor = 2
	ProtocolMinor = 0

	// Library API version, reported by the status endpoint
	APIVersion = "2.0.0"

	// Largest value of either number in an address component
	MaxComponentValue = 4095

	// Encoded address sizes
	AddressSize     = 3
	FullAddressSize = 6

	// Largest payload a frame can carry (2-byte length field)
	MaxDataLength = 0xFFFF

	// Frame layout: length(2) + source(6) + destination(6)
	FrameHeaderSize = 2 + FullAddressSize + FullAddressSize

	// Timestamp (8) after the data
	TimestampSize = 8

	// Maximum accepted distance between a frame timestamp and local time
	ReplayWindow = 60 * time.Second
)

// Control bytes
const (
	// Sent before shutting down the transport
	CloseMarker byte = 0x03
)

// Handshake failure codes carried in a [0, 0, code] reply
const (
	HandshakeCodeVersion     uint8 = 0x00 // Peer does not support our version
	HandshakeCodeBadIdentity uint8 = 0x01 // Peer does not recognize our identity
	HandshakeCodeInternal    uint8 = 0x02 // Peer had an internal error

	// Not sent on the wire: the peer closed after [0, 0] without a code
	HandshakeCodeMissing uint8 = 0xFF
)

// Version is a greeting protocol version.
type Version struct {
	Major uint8
	Minor uint8
}

// String renders "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// CurrentVersion is the version spoken by default.
var CurrentVersion = Version{Major: ProtocolMajor, Minor: ProtocolMinor}
