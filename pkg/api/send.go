package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/network"
	"github.com/ZentaChain/gerti-client/pkg/protocol"
)

// SendRequest asks the node to send one packet. With Peer empty the packet
// goes to every ready peer.
type SendRequest struct {
	Peer        string `json:"peer"`
	Destination string `json:"destination" binding:"required"`
	Data        string `json:"data"` // Base64 encoded
}

// SendResponse reports how many connections accepted the packet.
type SendResponse struct {
	Success     bool   `json:"success"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Size        int    `json:"size"`
	Sent        int    `json:"sent"`
}

// handleSend handles POST /api/v1/send
func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	dst, err := protocol.ParseAddress(req.Destination)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid destination",
			Message: err.Error(),
		})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid data",
			Message: "Data must be base64 encoded",
		})
		return
	}

	pkt, err := protocol.NewPacket(s.identity.Address(), dst, data)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "Payload too large",
			Message: err.Error(),
		})
		return
	}

	var sent int
	if req.Peer != "" {
		if err = s.pool.Write(req.Peer, pkt); err == nil {
			sent = 1
		}
	} else {
		sent, err = s.pool.Broadcast(pkt)
		if err != nil && sent > 0 {
			// partial broadcast still counts as sent
			s.log.Warn("Broadcast reached some peers", zap.Int("sent", sent), zap.Error(err))
			err = nil
		}
	}
	if err != nil {
		status := sendErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Warn("Send failed", zap.String("peer", req.Peer), zap.Error(err))
		}
		c.JSON(status, ErrorResponse{
			Error:   "Send failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SendResponse{
		Success:     true,
		Source:      pkt.Source().String(),
		Destination: dst.String(),
		Size:        len(data),
		Sent:        sent,
	})
}

func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, network.ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, network.ErrNoPeersReady),
		errors.Is(err, network.ErrConnectionClosed),
		errors.Is(err, network.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
