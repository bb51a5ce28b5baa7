package main

import (
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/metrics"
	"github.com/ZentaChain/gerti-client/pkg/network"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

type inboxWriter interface {
	SavePacket(peer string, p *protocol.Packet) (int64, error)
	SaveRejection(peer, reason, detail string) error
}

// sink persists pool events: packets go to the inbox, rejected frames are
// recorded by reason, and the rest is logged.
type sink struct {
	inbox inboxWriter
	log   *zap.Logger
}

func (s *sink) handle(ev network.PeerEvent) {
	log := s.log.With(zap.String("peer", ev.Peer))

	switch ev.Type {
	case network.EventReady:
		log.Info("Peer ready")

	case network.EventData:
		if _, err := s.inbox.SavePacket(ev.Peer, ev.Packet); err != nil {
			log.Error("Failed to store packet", zap.Stringer("packet", ev.Packet), zap.Error(err))
		}

	case network.EventRejected:
		if err := s.inbox.SaveRejection(ev.Peer, metrics.RejectionLabel(ev.Err), ev.Err.Error()); err != nil {
			log.Error("Failed to store rejection", zap.Error(err))
		}

	case network.EventHandshakeError:
		log.Warn("Handshake rejected", zap.Error(ev.Err))

	case network.EventClosed:
		if ev.Err != nil {
			log.Warn("Peer closed", zap.Error(ev.Err))
		} else {
			log.Info("Peer closed")
		}
	}
}
