package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// StoredPacket is a received packet as kept in the inbox.
type StoredPacket struct {
	ID          int64     `json:"id"`
	Peer        string    `json:"peer"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Data        []byte    `json:"data"`
	ReceivedAt  time.Time `json:"received_at"`
}

// SavePacket records a packet received from peer and returns its row id.
func (i *Inbox) SavePacket(peer string, p *protocol.Packet) (int64, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}

	data := p.Data()
	if data == nil {
		// a nil slice binds as NULL
		data = []byte{}
	}

	now := i.clock()
	query := `
		INSERT INTO packets (peer, source, destination, data, received_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := i.db.Exec(query, peer, p.Source().String(), p.Destination().String(), data, now.Unix(), i.expiry(now))
	if err != nil {
		return 0, fmt.Errorf("failed to save packet: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read packet id: %w", err)
	}

	i.log.Debug("Saved packet",
		zap.Int64("id", id),
		zap.String("peer", peer),
		zap.Stringer("source", p.Source()),
		zap.Int("bytes", len(data)))
	return id, nil
}

// ListPackets returns up to limit unexpired packets, newest first. A
// non-positive limit selects DefaultListLimit; larger values are capped at
// MaxListLimit.
func (i *Inbox) ListPackets(limit int) ([]*StoredPacket, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, peer, source, destination, data, received_at
		FROM packets
		WHERE expires_at > ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := i.db.Query(query, i.clock().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list packets: %w", err)
	}
	defer rows.Close()

	packets := make([]*StoredPacket, 0)
	for rows.Next() {
		var (
			pkt        StoredPacket
			receivedAt int64
		)
		if err := rows.Scan(&pkt.ID, &pkt.Peer, &pkt.Source, &pkt.Destination, &pkt.Data, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan packet: %w", err)
		}
		pkt.ReceivedAt = time.Unix(receivedAt, 0).UTC()
		packets = append(packets, &pkt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list packets: %w", err)
	}

	return packets, nil
}

// CountPackets returns the number of unexpired packets.
func (i *Inbox) CountPackets() (int, error) {
	if err := i.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := i.db.QueryRow(`SELECT COUNT(*) FROM packets WHERE expires_at > ?`, i.clock().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count packets: %w", err)
	}
	return count, nil
}
