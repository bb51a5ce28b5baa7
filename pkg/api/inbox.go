package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/gerti-client/pkg/storage"
)

// InboxResponse lists received packets, newest first. Data is base64.
type InboxResponse struct {
	Success bool                    `json:"success"`
	Count   int                     `json:"count"`
	Packets []*storage.StoredPacket `json:"packets"`
}

// RejectionsResponse counts rejected frames per reason.
type RejectionsResponse struct {
	Success bool           `json:"success"`
	Total   int            `json:"total"`
	Reasons map[string]int `json:"reasons"`
}

// handleInbox handles GET /api/v1/inbox?limit=N
func (s *Server) handleInbox(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid limit",
				Message: "limit must be a non-negative number",
			})
			return
		}
		limit = n
	}

	packets, err := s.inbox.ListPackets(limit)
	if err != nil {
		s.log.Error("Failed to list inbox", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Inbox unavailable",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, InboxResponse{
		Success: true,
		Count:   len(packets),
		Packets: packets,
	})
}

// handleRejections handles GET /api/v1/rejections
func (s *Server) handleRejections(c *gin.Context) {
	counts, err := s.inbox.RejectionCounts()
	if err != nil {
		s.log.Error("Failed to count rejections", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Inbox unavailable",
			Message: err.Error(),
		})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	c.JSON(http.StatusOK, RejectionsResponse{
		Success: true,
		Total:   total,
		Reasons: counts,
	})
}
