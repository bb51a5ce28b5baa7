// Package protocol implements the GERTe/GERTi wire protocol.
//
// The protocol package defines node addresses, local identities, packets and
// the signed frame format exchanged between peers.
//
// # Addresses
//
// An address has a mandatory internal component and an optional external
// component. Each component is a pair of 12-bit numbers written "A.B":
//
//	1.2          internal only
//	10.20:1.2    external 10.20, internal 1.2
//
// A component packs into 3 bytes, so an address encodes to 3 or 6 bytes with
// the external component first. Inside a frame addresses always take 6 bytes;
// a missing external component is written as zeros, which is why "0.0" is
// never a valid external component.
//
// # Handshake
//
// After connecting, the client sends a greeting:
//   - Major (1 byte), Minor (1 byte): protocol version (currently 2.0)
//   - Address (3 or 6 bytes): the local identity address
//
// The peer answers with [0, 0, code] on failure (0 = version mismatch,
// 1 = identity not recognized, 2 = peer internal error). Any other reply
// accepts the connection.
//
// # Frame Format
//
// Every packet crosses the wire as a signed frame (big-endian):
//   - Length (2 bytes): payload length
//   - Source (6 bytes)
//   - Destination (6 bytes)
//   - Data (Length bytes)
//   - Timestamp (8 bytes): unsigned Unix seconds at emission
//   - SigLength (1 byte)
//   - Signature (SigLength bytes): ECDSA-SHA256 over every preceding byte
//
// A receiver rejects frames whose timestamp is more than 60 seconds away from
// its own clock, frames from signers missing in its key store, and frames
// whose signature does not verify.
//
// # Usage Example
//
//	id, _ := protocol.ParseIdentity("10.20", privateKey)
//	pkt, _ := protocol.NewPacket(protocol.MustParseAddress("1.1"),
//	    protocol.MustParseAddress("30.40:5.6"), []byte("hello"))
//
//	frame, _ := protocol.EncodeFrame(pkt, id, time.Now())
//	conn.Write(frame)
//
//	// receiving side
//	pkt, n, err := protocol.DecodeFrame(buf, keyStore, time.Now())
package protocol
