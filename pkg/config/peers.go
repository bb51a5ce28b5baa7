package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	ma "github.com/multiformats/go-multiaddr"
)

var (
	ErrPeerList = errors.New("malformed peer list")
)

// PeerRecordSize is the width of one peer-list record:
// [4B IPv4][u16 gateway port][u16 peer port][2B reserved].
const PeerRecordSize = 10

// Peer is one entry of the peer list.
type Peer struct {
	IP          net.IP
	GatewayPort uint16
	PeerPort    uint16
}

// Port returns the port selected by mode.
func (p Peer) Port(mode string) uint16 {
	if mode == PortModeGateway {
		return p.GatewayPort
	}
	return p.PeerPort
}

// Multiaddr returns /ip4/<ip>/tcp/<port>.
func (p Peer) Multiaddr(port uint16) (ma.Multiaddr, error) {
	addr, err := ma.NewMultiaddr("/ip4/" + p.IP.String() + "/tcp/" + strconv.Itoa(int(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerList, err)
	}
	return addr, nil
}

// Name identifies the peer in logs and the API.
func (p Peer) Name(mode string) string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port(mode))))
}

// ParsePeers decodes a peer list. A trailing partial record is an error.
func ParsePeers(data []byte) ([]Peer, error) {
	if len(data)%PeerRecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrPeerList, len(data), PeerRecordSize)
	}

	peers := make([]Peer, 0, len(data)/PeerRecordSize)
	for off := 0; off < len(data); off += PeerRecordSize {
		rec := data[off : off+PeerRecordSize]
		peers = append(peers, Peer{
			IP:          net.IPv4(rec[0], rec[1], rec[2], rec[3]).To4(),
			GatewayPort: binary.BigEndian.Uint16(rec[4:6]),
			PeerPort:    binary.BigEndian.Uint16(rec[6:8]),
		})
	}
	return peers, nil
}

// LoadPeers reads and decodes a peer-list file.
func LoadPeers(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read peer list %s: %w", path, err)
	}
	return ParsePeers(data)
}

// EncodePeers builds a peer-list image. Non-IPv4 entries are rejected.
func EncodePeers(peers []Peer) ([]byte, error) {
	buf := make([]byte, 0, len(peers)*PeerRecordSize)
	for _, p := range peers {
		ip4 := p.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("%w: %s is not IPv4", ErrPeerList, p.IP)
		}

		var rec [PeerRecordSize]byte
		copy(rec[0:4], ip4)
		binary.BigEndian.PutUint16(rec[4:6], p.GatewayPort)
		binary.BigEndian.PutUint16(rec[6:8], p.PeerPort)
		buf = append(buf, rec[:]...)
	}
	return buf, nil
}
