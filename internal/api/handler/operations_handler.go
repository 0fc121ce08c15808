package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/core/service"
	"github.com/martijn/vmvault/internal/importchain"
)

// OperationsHandler starts the vault-wide background jobs
type OperationsHandler struct {
	retentionService *service.RetentionService
	importService    *service.ImportService
}

func NewOperationsHandler(retentionService *service.RetentionService, importService *service.ImportService) *OperationsHandler {
	return &OperationsHandler{
		retentionService: retentionService,
		importService:    importService,
	}
}

// Retention handles POST /retention
func (h *OperationsHandler) Retention(c *gin.Context) {
	var req dto.RetentionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	process, err := h.retentionService.StartSweep(c.Request.Context(), req.WorkloadID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, asyncResponse(process))
}

// Import handles POST /import
func (h *OperationsHandler) Import(c *gin.Context) {
	var req dto.ImportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	opts := importchain.Options{
		Mode:        importchain.ModeUpgrade,
		WorkloadIDs: req.WorkloadIDs,
		UserID:      req.UserID,
		Settings:    req.Settings,
	}
	if req.Migrate {
		opts.Mode = importchain.ModeMigrate
	}

	process, err := h.importService.StartImport(c.Request.Context(), opts)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, asyncResponse(process))
}
