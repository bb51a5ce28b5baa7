package network

import (
	"time"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// assembler turns an arbitrarily chunked byte stream back into frames.
type assembler struct {
	buf  []byte
	keys protocol.KeyResolver
}

func newAssembler(keys protocol.KeyResolver) *assembler {
	return &assembler{keys: keys}
}

// write appends an inbound chunk.
func (a *assembler) write(chunk []byte) {
	a.buf = append(a.buf, chunk...)
}

// next decodes the frame at the head of the buffer. It returns
// protocol.ErrTruncated, leaving the buffer untouched, when more bytes are
// needed. Any other error means the offending frame was dropped.
func (a *assembler) next(now time.Time) (*protocol.Packet, error) {
	p, n, err := protocol.DecodeFrame(a.buf, a.keys, now)
	if n > 0 {
		a.buf = a.buf[n:]
		if len(a.buf) == 0 {
			a.buf = nil
		}
	}
	return p, err
}
