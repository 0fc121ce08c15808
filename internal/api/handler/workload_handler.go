package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/core/service"
)

var (
	workloadQueryFields = util.Fields{"id", "name", "status", "user_id", "project_id", "source_platform", "created_at"}
	workloadOrderFields = util.Fields{"name", "status", "created_at", "updated_at"}
)

type WorkloadHandler struct {
	workloadService  *service.WorkloadService
	snapshotService  *service.SnapshotService
	retentionService *service.RetentionService
}

func NewWorkloadHandler(
	workloadService *service.WorkloadService,
	snapshotService *service.SnapshotService,
	retentionService *service.RetentionService,
) *WorkloadHandler {
	return &WorkloadHandler{
		workloadService:  workloadService,
		snapshotService:  snapshotService,
		retentionService: retentionService,
	}
}

// CreateWorkload handles POST /workloads
func (h *WorkloadHandler) CreateWorkload(c *gin.Context) {
	var req dto.CreateWorkloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	workload, err := h.workloadService.CreateWorkload(c.Request.Context(), service.CreateWorkloadRequest{
		Name:           req.Name,
		Description:    req.Description,
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		SourcePlatform: req.SourcePlatform,
		JobSchedule:    req.JobSchedule,
		Metadata:       domain.Metadata(req.Metadata),
		VMs:            toVMSpecs(req.Instances),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.respondWorkload(c, http.StatusCreated, workload)
}

// GetWorkload handles GET /workloads/:id
func (h *WorkloadHandler) GetWorkload(c *gin.Context) {
	workload, err := h.workloadService.GetWorkload(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.respondWorkload(c, http.StatusOK, workload)
}

func (h *WorkloadHandler) respondWorkload(c *gin.Context, code int, workload *domain.Workload) {
	vms, err := h.workloadService.ListVMs(c.Request.Context(), workload.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response := toWorkloadResponse(workload)
	for _, vm := range vms {
		response.Instances = append(response.Instances, dto.WorkloadVMResponse{
			ID:       vm.ID,
			VMID:     vm.VMID,
			VMName:   vm.VMName,
			Status:   vm.Status,
			Metadata: vm.Metadata,
		})
	}
	c.JSON(code, response)
}

// ListWorkloads handles GET /workloads
func (h *WorkloadHandler) ListWorkloads(c *gin.Context) {
	listFilter, ok := parseListFilter(c, workloadQueryFields, workloadOrderFields)
	if !ok {
		return
	}
	filter := repository.WorkloadFilter{ListFilter: listFilter}

	workloads, err := h.workloadService.ListWorkloads(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	count, _ := h.workloadService.CountWorkloads(c.Request.Context(), filter)

	response := dto.WorkloadListResponse{
		Items:      make([]dto.WorkloadResponse, len(workloads)),
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	}
	for i, w := range workloads {
		response.Items[i] = toWorkloadResponse(w)
	}
	c.JSON(http.StatusOK, response)
}

// UpdateWorkload handles PUT /workloads/:id
func (h *WorkloadHandler) UpdateWorkload(c *gin.Context) {
	var req dto.UpdateWorkloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	workload, err := h.workloadService.ModifyWorkload(c.Request.Context(), c.Param("id"), service.ModifyWorkloadRequest{
		Name:        req.Name,
		Description: req.Description,
		JobSchedule: req.JobSchedule,
		VMs:         toVMSpecs(req.Instances),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.respondWorkload(c, http.StatusOK, workload)
}

// DeleteWorkload handles DELETE /workloads/:id
func (h *WorkloadHandler) DeleteWorkload(c *gin.Context) {
	if err := h.workloadService.DeleteWorkload(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ValidateChain handles GET /workloads/:id/chain. A broken chain is reported
// with 422 and the full report as body.
func (h *WorkloadHandler) ValidateChain(c *gin.Context) {
	report, err := h.retentionService.ValidateChain(c.Request.Context(), c.Param("id"))
	if errors.Is(err, domain.ErrChainIntegrity) {
		c.JSON(http.StatusUnprocessableEntity, report)
		return
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// StartSnapshot handles POST /workloads/:id/snapshots
func (h *WorkloadHandler) StartSnapshot(c *gin.Context) {
	var req dto.StartSnapshotRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	snapshot, err := h.snapshotService.StartSnapshot(c.Request.Context(), c.Param("id"), service.SnapshotOptions{
		Name:        req.Name,
		Description: req.Description,
		ForceFull:   req.Full,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	link := "/snapshots/" + snapshot.ID
	c.JSON(http.StatusAccepted, dto.AsyncResponse{
		Status:     string(snapshot.Status),
		Link:       &link,
		ResourceID: &snapshot.ID,
	})
}

func toVMSpecs(instances []dto.WorkloadVMRequest) []service.WorkloadVMSpec {
	if instances == nil {
		return nil
	}
	specs := make([]service.WorkloadVMSpec, len(instances))
	for i, vm := range instances {
		specs[i] = service.WorkloadVMSpec{
			VMID:     vm.VMID,
			VMName:   vm.VMName,
			Metadata: domain.Metadata(vm.Metadata),
		}
	}
	return specs
}

func toWorkloadResponse(w *domain.Workload) dto.WorkloadResponse {
	return dto.WorkloadResponse{
		ID:             w.ID,
		Name:           w.Name,
		Description:    w.Description,
		UserID:         w.UserID,
		ProjectID:      w.ProjectID,
		Status:         string(w.Status),
		SourcePlatform: w.SourcePlatform,
		JobSchedule:    w.JobSchedule,
		Metadata:       w.Metadata,
		BackupTarget:   w.BackupTarget(),
		ErrorMsg:       w.ErrorMsg,
		Version:        w.Version,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}
