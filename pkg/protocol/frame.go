package protocol

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ZentaChain/gerti-client/pkg/crypto"
)

var (
	ErrTruncated      = errors.New("frame truncated")
	ErrReplayRejected = errors.New("frame timestamp outside replay window")
	ErrUnknownSigner  = errors.New("unknown signer")
	ErrBadSignature   = errors.New("bad frame signature")
	ErrMalformedFrame = errors.New("malformed frame")
)

// KeyResolver finds the public key for a signing address.
type KeyResolver interface {
	Lookup(addr Address) (*ecdsa.PublicKey, bool)
}

// FrameHeader is the fixed part of a signed frame.
type FrameHeader struct {
	Length      uint16
	Source      Address
	Destination Address
}

// EncodeFrame serializes and signs a packet.
//
// Layout: length(2) | source(6) | destination(6) | data | timestamp(8) |
// sig_length(1) | signature. The signature covers every byte before
// sig_length.
func EncodeFrame(p *Packet, id *Identity, now time.Time) ([]byte, error) {
	if len(p.data) > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.data))
	}

	signedLen := FrameHeaderSize + len(p.data) + TimestampSize
	buf := make([]byte, signedLen, signedLen+1+crypto.MaxSignatureSize)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(p.data)))
	offset += 2

	copy(buf[offset:], p.source.WireBytes())
	offset += FullAddressSize

	copy(buf[offset:], p.destination.WireBytes())
	offset += FullAddressSize

	copy(buf[offset:], p.data)
	offset += len(p.data)

	binary.BigEndian.PutUint64(buf[offset:], uint64(now.Unix()))

	sig, err := crypto.SignData(buf, id.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("failed to sign frame: %w", err)
	}
	if len(sig) > crypto.MaxSignatureSize {
		return nil, fmt.Errorf("signature too long: %d bytes", len(sig))
	}

	buf = append(buf, byte(len(sig)))
	return append(buf, sig...), nil
}

// DecodeFrameHeader decodes the fixed 14-byte frame prefix.
func DecodeFrameHeader(buf []byte) (*FrameHeader, error) {
	if len(buf) < FrameHeaderSize {
		return nil, ErrTruncated
	}

	source, err := DecodeAddress(buf[2:8])
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrMalformedFrame, err)
	}
	destination, err := DecodeAddress(buf[8:14])
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %v", ErrMalformedFrame, err)
	}

	return &FrameHeader{
		Length:      binary.BigEndian.Uint16(buf[0:2]),
		Source:      source,
		Destination: destination,
	}, nil
}

// FrameSize returns the total size of the frame at the start of buf, or
// ErrTruncated when not enough bytes are buffered to know it.
func FrameSize(buf []byte) (int, error) {
	if len(buf) < FrameHeaderSize {
		return 0, ErrTruncated
	}

	sigLenOffset := FrameHeaderSize + int(binary.BigEndian.Uint16(buf[0:2])) + TimestampSize
	if len(buf) < sigLenOffset+1 {
		return 0, ErrTruncated
	}

	total := sigLenOffset + 1 + int(buf[sigLenOffset])
	if len(buf) < total {
		return 0, ErrTruncated
	}

	return total, nil
}

// DecodeFrame decodes and verifies the frame at the start of buf.
//
// On success it returns the packet and the number of bytes consumed. Any
// error other than ErrTruncated also reports the frame's full size so the
// caller can skip past it.
func DecodeFrame(buf []byte, keys KeyResolver, now time.Time) (*Packet, int, error) {
	size, err := FrameSize(buf)
	if err != nil {
		return nil, 0, err
	}

	header, err := DecodeFrameHeader(buf)
	if err != nil {
		return nil, size, err
	}

	dataEnd := FrameHeaderSize + int(header.Length)
	signedEnd := dataEnd + TimestampSize
	timestamp := binary.BigEndian.Uint64(buf[dataEnd:signedEnd])

	if !withinReplayWindow(timestamp, now) {
		return nil, size, fmt.Errorf("%w: timestamp %d", ErrReplayRejected, timestamp)
	}

	key, ok := keys.Lookup(header.Source)
	if !ok || key == nil {
		return nil, size, fmt.Errorf("%w: %s", ErrUnknownSigner, header.Source)
	}

	sig := buf[signedEnd+1 : size]
	if err := crypto.VerifySignature(buf[:signedEnd], sig, key); err != nil {
		return nil, size, fmt.Errorf("%w: from %s", ErrBadSignature, header.Source)
	}

	packet := &Packet{
		source:      header.Source,
		destination: header.Destination,
		data:        append([]byte(nil), buf[FrameHeaderSize:dataEnd]...),
	}

	return packet, size, nil
}

// withinReplayWindow compares unsigned timestamps without wrapping.
func withinReplayWindow(timestamp uint64, now time.Time) bool {
	window := uint64(ReplayWindow / time.Second)

	current := now.Unix()
	if current < 0 {
		current = 0
	}
	nowSecs := uint64(current)

	if timestamp > nowSecs {
		return timestamp-nowSecs <= window
	}
	return nowSecs-timestamp <= window
}
