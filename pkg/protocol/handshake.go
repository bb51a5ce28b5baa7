package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// HandshakeError is the failure reported by a [0, 0, code] reply.
type HandshakeError struct {
	Code uint8
}

func (e *HandshakeError) Error() string {
	switch e.Code {
	case HandshakeCodeVersion:
		return "peer does not support our version"
	case HandshakeCodeBadIdentity:
		return "peer does not recognize our identity"
	case HandshakeCodeInternal:
		return "peer had an internal error"
	case HandshakeCodeMissing:
		return "peer closed before sending a rejection code"
	default:
		return fmt.Sprintf("peer had an unrecognized error (code %d)", e.Code)
	}
}

func (e *HandshakeError) Unwrap() error {
	return ErrHandshakeRejected
}

// EncodeGreeting builds the greeting: major, minor, then the compact address.
func EncodeGreeting(v Version, addr Address) []byte {
	encoded := addr.Bytes()
	buf := make([]byte, 0, 2+len(encoded))
	buf = append(buf, v.Major, v.Minor)
	return append(buf, encoded...)
}

// ParseHandshakeReply inspects the bytes received so far after the greeting.
// It returns done=false while the reply is still ambiguous. Any reply that
// does not begin with [0, 0] is a success; [0, 0, code] yields a
// *HandshakeError.
func ParseHandshakeReply(buf []byte) (done bool, err error) {
	switch {
	case len(buf) == 0:
		return false, nil
	case buf[0] != 0:
		return true, nil
	case len(buf) == 1:
		return false, nil
	case buf[1] != 0:
		return true, nil
	case len(buf) == 2:
		return false, nil
	default:
		return true, &HandshakeError{Code: buf[2]}
	}
}

// HandshakeReplyAtClose classifies the reply bytes buffered when the
// transport closed before ParseHandshakeReply reached a verdict. A [0, 0]
// prefix is a rejection whose code never arrived; anything shorter is nil.
func HandshakeReplyAtClose(buf []byte) error {
	if len(buf) >= 2 && buf[0] == 0 && buf[1] == 0 {
		return &HandshakeError{Code: HandshakeCodeMissing}
	}
	return nil
}
