package handler

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/core/service"
)

type ShareHandler struct {
	placementService *service.PlacementService
}

func NewShareHandler(placementService *service.PlacementService) *ShareHandler {
	return &ShareHandler{placementService: placementService}
}

// ListShares handles GET /shares with a live capacity reading of every share
func (h *ShareHandler) ListShares(c *gin.Context) {
	shares := h.placementService.Capacities(c.Request.Context())

	response := dto.ShareListResponse{Items: make([]dto.ShareResponse, len(shares))}
	for i, s := range shares {
		free := s.Capacity.Free()
		response.Items[i] = dto.ShareResponse{
			Name:      s.Name,
			Type:      s.Type,
			Endpoint:  s.Endpoint,
			Priority:  s.Priority,
			Online:    s.Online,
			Total:     s.Capacity.Total,
			Used:      s.Capacity.Used,
			Free:      free,
			FreeHuman: humanize.IBytes(uint64(free)),
			Error:     s.Error,
		}
	}
	c.JSON(http.StatusOK, response)
}
