package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrFormat = errors.New("invalid address format")
)

var (
	addrPattern = regexp.MustCompile(`^(?:(\d{1,4}\.\d{1,4}):)?(\d{1,4}\.\d{1,4})$`)
	partPattern = regexp.MustCompile(`^(\d{1,4})\.(\d{1,4})$`)
)

// Component is one half of an address: two 12-bit numbers rendered "A.B".
type Component struct {
	Upper uint16
	Lower uint16
}

// ParseComponent parses "A.B" where both numbers are at most 4095.
func ParseComponent(text string) (Component, error) {
	m := partPattern.FindStringSubmatch(text)
	if m == nil {
		return Component{}, fmt.Errorf("%w: %q", ErrFormat, text)
	}

	upper, err := parseComponentValue(m[1])
	if err != nil {
		return Component{}, err
	}
	lower, err := parseComponentValue(m[2])
	if err != nil {
		return Component{}, err
	}

	return Component{Upper: upper, Lower: lower}, nil
}

func parseComponentValue(s string) (uint16, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > MaxComponentValue {
		return 0, fmt.Errorf("%w: %s out of range", ErrFormat, s)
	}
	return uint16(v), nil
}

// IsZero reports whether the component is "0.0".
func (c Component) IsZero() bool {
	return c.Upper == 0 && c.Lower == 0
}

// String renders the component as "A.B".
func (c Component) String() string {
	return strconv.Itoa(int(c.Upper)) + "." + strconv.Itoa(int(c.Lower))
}

// Bytes packs both 12-bit values into 3 bytes.
func (c Component) Bytes() []byte {
	return []byte{
		byte(c.Upper >> 4),
		byte((c.Upper&0x0F)<<4) | byte(c.Lower>>8),
		byte(c.Lower & 0xFF),
	}
}

func decodeComponent(b []byte) Component {
	return Component{
		Upper: uint16(b[0])<<4 | uint16(b[1])>>4,
		Lower: uint16(b[1]&0x0F)<<8 | uint16(b[2]),
	}
}

// Address identifies a node. The internal component is always present; the
// external component is optional and never "0.0".
type Address struct {
	internal    Component
	external    Component
	hasExternal bool
}

// NewAddress builds an internal-only address.
func NewAddress(internal Component) (Address, error) {
	if internal.Upper > MaxComponentValue || internal.Lower > MaxComponentValue {
		return Address{}, fmt.Errorf("%w: component out of range", ErrFormat)
	}
	return Address{internal: internal}, nil
}

// ParseAddress parses "A.B" or "C.D:A.B".
func ParseAddress(text string) (Address, error) {
	m := addrPattern.FindStringSubmatch(text)
	if m == nil {
		return Address{}, fmt.Errorf("%w: %q", ErrFormat, text)
	}

	internal, err := ParseComponent(m[2])
	if err != nil {
		return Address{}, err
	}

	addr := Address{internal: internal}
	if m[1] == "" {
		return addr, nil
	}

	external, err := ParseComponent(m[1])
	if err != nil {
		return Address{}, err
	}
	if external.IsZero() {
		return Address{}, fmt.Errorf("%w: external part 0.0 is reserved", ErrFormat)
	}

	addr.external = external
	addr.hasExternal = true
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(text string) Address {
	addr, err := ParseAddress(text)
	if err != nil {
		panic(err)
	}
	return addr
}

// DecodeAddress decodes a 3-byte (internal) or 6-byte (external, internal)
// address. A 6-byte address with an all-zero external half is the
// zero-extended form of an internal-only address.
func DecodeAddress(b []byte) (Address, error) {
	switch len(b) {
	case AddressSize:
		return Address{internal: decodeComponent(b)}, nil
	case FullAddressSize:
		addr := Address{internal: decodeComponent(b[3:6])}
		external := decodeComponent(b[0:3])
		if !external.IsZero() {
			addr.external = external
			addr.hasExternal = true
		}
		return addr, nil
	default:
		return Address{}, fmt.Errorf("%w: encoded address is %d bytes, want 3 or 6", ErrFormat, len(b))
	}
}

// Bytes encodes the address in its compact form: 3 bytes without an external
// component, 6 bytes (external first) with one.
func (a Address) Bytes() []byte {
	if !a.hasExternal {
		return a.internal.Bytes()
	}

	buf := make([]byte, 0, FullAddressSize)
	buf = append(buf, a.external.Bytes()...)
	return append(buf, a.internal.Bytes()...)
}

// WireBytes always encodes 6 bytes, zero-filling a missing external component.
func (a Address) WireBytes() []byte {
	buf := make([]byte, FullAddressSize)
	if a.hasExternal {
		copy(buf[0:3], a.external.Bytes())
	}
	copy(buf[3:6], a.internal.Bytes())
	return buf
}

// Internal returns the internal component.
func (a Address) Internal() Component {
	return a.internal
}

// External returns the external component and whether it is set.
func (a Address) External() (Component, bool) {
	return a.external, a.hasExternal
}

// HasExternal reports whether the address carries an external component.
func (a Address) HasExternal() bool {
	return a.hasExternal
}

// WithExternal returns a copy with the external component replaced.
func (a Address) WithExternal(text string) (Address, error) {
	external, err := ParseComponent(text)
	if err != nil {
		return Address{}, err
	}
	if external.IsZero() {
		return Address{}, fmt.Errorf("%w: external part 0.0 is reserved", ErrFormat)
	}

	a.external = external
	a.hasExternal = true
	return a, nil
}

// WithInternal returns a copy with the internal component replaced.
func (a Address) WithInternal(text string) (Address, error) {
	internal, err := ParseComponent(text)
	if err != nil {
		return Address{}, err
	}

	a.internal = internal
	return a, nil
}

// Stamp returns a copy whose external component is c. A zero c clears the
// external component, which encodes identically on the wire.
func (a Address) Stamp(c Component) Address {
	a.external = c
	a.hasExternal = !c.IsZero()
	if !a.hasExternal {
		a.external = Component{}
	}
	return a
}

// Key is the key-store lookup form: the external component when present,
// otherwise the full address.
func (a Address) Key() string {
	if a.hasExternal {
		return a.external.String()
	}
	return a.internal.String()
}

// String renders "A.B" or "C.D:A.B".
func (a Address) String() string {
	if a.hasExternal {
		return a.external.String() + ":" + a.internal.String()
	}
	return a.internal.String()
}
