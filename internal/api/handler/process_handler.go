package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/core/service"
)

var (
	processQueryFields = util.Fields{"id", "command", "command_id", "status", "start_time", "end_time", "type"}
	processOrderFields = util.Fields{"id", "start_time", "end_time", "status", "type"}
)

// ProcessHandler serves the markers of background snapshot, retention and
// import jobs.
type ProcessHandler struct {
	processService *service.ProcessService
}

func NewProcessHandler(processService *service.ProcessService) *ProcessHandler {
	return &ProcessHandler{processService: processService}
}

// ListProcesses handles GET /processes
func (h *ProcessHandler) ListProcesses(c *gin.Context) {
	listFilter, ok := parseListFilter(c, processQueryFields, processOrderFields)
	if !ok {
		return
	}
	filter := repository.ProcessFilter{ListFilter: listFilter}
	ctx := c.Request.Context()

	processes, err := h.processService.ListProcesses(ctx, filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	count, err := h.processService.CountProcesses(ctx, filter)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items := make([]dto.ProcessResponse, 0, len(processes))
	for _, process := range processes {
		items = append(items, toProcessResponse(process))
	}
	c.JSON(http.StatusOK, dto.ProcessListResponse{
		Items:      items,
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	})
}

// GetProcessByCommandID handles GET /status/:command_id
func (h *ProcessHandler) GetProcessByCommandID(c *gin.Context) {
	process, err := h.processService.GetProcessByCommandID(c.Request.Context(), c.Param("command_id"))
	h.respond(c, process, err)
}

// GetProcess handles GET /processes/:id
func (h *ProcessHandler) GetProcess(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid process ID")
		return
	}
	process, err := h.processService.GetProcess(c.Request.Context(), id)
	h.respond(c, process, err)
}

func (h *ProcessHandler) respond(c *gin.Context, process *domain.Process, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, toProcessResponse(process))
}

func toProcessResponse(process *domain.Process) dto.ProcessResponse {
	resp := dto.ProcessResponse{
		ID:         process.ID,
		CommandID:  process.CommandID,
		Command:    process.Command,
		Status:     string(process.Status),
		Output:     process.Output,
		Error:      process.Error,
		StartTime:  process.StartTime,
		EndTime:    process.EndTime,
		Type:       string(process.Type),
		Args:       process.Args,
		Link:       statusLink(process),
		ResourceID: process.ResourceID(),
	}
	if process.EndTime != nil {
		seconds := process.EndTime.Sub(process.StartTime).Seconds()
		resp.DurationSeconds = &seconds
	}
	return resp
}
