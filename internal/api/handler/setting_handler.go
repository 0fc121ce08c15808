package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/service"
)

type SettingHandler struct {
	settingService *service.SettingService
}

func NewSettingHandler(settingService *service.SettingService) *SettingHandler {
	return &SettingHandler{settingService: settingService}
}

// ListSettings handles GET /settings
func (h *SettingHandler) ListSettings(c *gin.Context) {
	settings, err := h.settingService.ListSettings(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	response := dto.SettingListResponse{Items: make([]dto.SettingResponse, len(settings))}
	for i, s := range settings {
		response.Items[i] = toSettingResponse(s)
	}
	c.JSON(http.StatusOK, response)
}

// UpsertSetting handles PUT /settings/:name
func (h *SettingHandler) UpsertSetting(c *gin.Context) {
	var req dto.SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	setting, err := h.settingService.UpsertSetting(c.Request.Context(), &domain.Setting{
		Name:        c.Param("name"),
		Value:       req.Value,
		Category:    req.Category,
		Type:        req.Type,
		Description: req.Description,
		Hidden:      req.Hidden,
		Public:      req.Public,
		Metadata:    domain.Metadata(req.Metadata),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toSettingResponse(setting))
}

func toSettingResponse(s *domain.Setting) dto.SettingResponse {
	return dto.SettingResponse{
		Name:        s.Name,
		Value:       s.Value,
		Category:    s.Category,
		Type:        s.Type,
		Description: s.Description,
		Hidden:      s.Hidden,
		Public:      s.Public,
		Status:      s.Status,
		Metadata:    s.Metadata,
		UpdatedAt:   s.UpdatedAt,
	}
}
