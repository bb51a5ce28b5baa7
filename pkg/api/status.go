package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/crypto"
	"github.com/ZentaChain/gerti-client/pkg/network"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// StatusResponse describes the local node and its peers.
type StatusResponse struct {
	Success       bool                 `json:"success"`
	APIVersion    string               `json:"apiVersion"`
	Address       string               `json:"address"`
	Fingerprint   string               `json:"fingerprint"`
	Peers         []network.PeerStatus `json:"peers"`
	ReadyPeers    int                  `json:"readyPeers"`
	InboxPackets  int                  `json:"inboxPackets"`
	UptimeSeconds int64                `json:"uptimeSeconds"`
	CheckedAt     time.Time            `json:"checkedAt"`
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	count, err := s.inbox.CountPackets()
	if err != nil {
		s.log.Error("Failed to count inbox packets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Inbox unavailable",
			Message: err.Error(),
		})
		return
	}

	peers := s.pool.Status()
	ready := 0
	for _, p := range peers {
		if p.State == network.StateReady.String() {
			ready++
		}
	}

	c.JSON(http.StatusOK, StatusResponse{
		Success:       true,
		APIVersion:    protocol.APIVersion,
		Address:       s.identity.Address().String(),
		Fingerprint:   crypto.Fingerprint(s.identity.PublicKey()),
		Peers:         peers,
		ReadyPeers:    ready,
		InboxPackets:  count,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		CheckedAt:     time.Now().UTC(),
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
