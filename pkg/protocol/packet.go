package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrPayloadTooLarge = errors.New("packet data exceeds 65535 bytes")
)

// Packet is a datagram between two addresses.
type Packet struct {
	source      Address
	destination Address
	data        []byte
}

// NewPacket creates a packet. The data slice is copied.
func NewPacket(source, destination Address, data []byte) (*Packet, error) {
	if len(data) > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	return &Packet{
		source:      source,
		destination: destination,
		data:        append([]byte(nil), data...),
	}, nil
}

// Source returns the source address.
func (p *Packet) Source() Address {
	return p.source
}

// Destination returns the destination address.
func (p *Packet) Destination() Address {
	return p.destination
}

// Data returns the payload. Callers must not modify it.
func (p *Packet) Data() []byte {
	return p.data
}

// WithSource returns a copy of the packet with a different source.
func (p *Packet) WithSource(source Address) *Packet {
	return &Packet{
		source:      source,
		destination: p.destination,
		data:        p.data,
	}
}

// Equal reports whether two packets carry the same addresses and data.
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.source == other.source &&
		p.destination == other.destination &&
		bytes.Equal(p.data, other.data)
}

// String returns a short description for logs.
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{%s -> %s, %d bytes}", p.source, p.destination, len(p.data))
}
