package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/api/util"
	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/core/service"
)

var (
	snapshotQueryFields = util.Fields{"id", "workload_id", "snapshot_type", "status", "created_at", "finished_at"}
	snapshotOrderFields = util.Fields{"created_at", "finished_at", "size", "status"}
)

type SnapshotHandler struct {
	snapshotService *service.SnapshotService
}

func NewSnapshotHandler(snapshotService *service.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshotService: snapshotService}
}

// ListSnapshots handles GET /snapshots
func (h *SnapshotHandler) ListSnapshots(c *gin.Context) {
	listFilter, ok := parseListFilter(c, snapshotQueryFields, snapshotOrderFields)
	if !ok {
		return
	}
	filter := repository.SnapshotFilter{ListFilter: listFilter}

	snapshots, err := h.snapshotService.ListSnapshots(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	count, _ := h.snapshotService.CountSnapshots(c.Request.Context(), filter)

	response := dto.SnapshotListResponse{
		Items:      make([]dto.SnapshotResponse, len(snapshots)),
		Pagination: dto.NewPagination(count, filter.Page, filter.PerPage),
	}
	for i, s := range snapshots {
		response.Items[i] = toSnapshotResponse(s)
	}
	c.JSON(http.StatusOK, response)
}

// GetSnapshot handles GET /snapshots/:id
func (h *SnapshotHandler) GetSnapshot(c *gin.Context) {
	detail, err := h.snapshotService.GetSnapshotDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	response := dto.SnapshotDetailResponse{
		SnapshotResponse: toSnapshotResponse(detail.Snapshot),
		Instances:        make([]dto.SnapshotVMResponse, len(detail.VMs)),
		Resources:        make([]dto.SnapshotResourceResponse, len(detail.Resources)),
		Disks:            make([]dto.DiskSnapshotResponse, len(detail.Disks)),
	}
	for i, vm := range detail.VMs {
		response.Instances[i] = dto.SnapshotVMResponse{VMID: vm.VMID, VMName: vm.VMName, Status: vm.Status, Size: vm.Size}
	}
	for i, r := range detail.Resources {
		response.Resources[i] = dto.SnapshotResourceResponse{
			ID:           r.ID,
			VMID:         r.VMID,
			ResourceType: string(r.ResourceType),
			ResourceName: r.ResourceName,
			Status:       r.Status,
			Size:         r.Size,
			Metadata:     r.Metadata,
		}
	}
	for i, d := range detail.Disks {
		response.Disks[i] = dto.DiskSnapshotResponse{
			ID:          d.ID,
			DiskID:      d.DiskID,
			Name:        d.Name,
			BackingID:   d.BackingID,
			VaultKey:    d.VaultKey,
			Size:        d.Size,
			RestoreSize: d.RestoreSize,
			Status:      d.Status,
		}
	}
	c.JSON(http.StatusOK, response)
}

// DeleteSnapshot handles DELETE /snapshots/:id. Snapshots still backing a
// live chain are refused with 409.
func (h *SnapshotHandler) DeleteSnapshot(c *gin.Context) {
	if err := h.snapshotService.DeleteSnapshot(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toSnapshotResponse(s *domain.Snapshot) dto.SnapshotResponse {
	return dto.SnapshotResponse{
		ID:              s.ID,
		WorkloadID:      s.WorkloadID,
		Name:            s.Name,
		Description:     s.Description,
		SnapshotType:    string(s.SnapshotType),
		Status:          string(s.Status),
		Size:            s.Size,
		ProgressPercent: s.ProgressPercent,
		ProgressMsg:     s.ProgressMsg,
		ErrorMsg:        s.ErrorMsg,
		CreatedAt:       s.CreatedAt,
		FinishedAt:      s.FinishedAt,
	}
}
