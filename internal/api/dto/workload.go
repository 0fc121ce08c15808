package dto

import (
	"time"

	"github.com/martijn/vmvault/internal/core/domain"
)

type WorkloadVMRequest struct {
	VMID     string            `json:"vm_id" binding:"required"`
	VMName   string            `json:"vm_name"`
	Metadata map[string]string `json:"metadata"`
}

type CreateWorkloadRequest struct {
	Name           string              `json:"name" binding:"required"`
	Description    string              `json:"description"`
	UserID         string              `json:"user_id"`
	ProjectID      string              `json:"project_id"`
	SourcePlatform string              `json:"source_platform"`
	JobSchedule    domain.JobSchedule  `json:"jobschedule"`
	Metadata       map[string]string   `json:"metadata"`
	Instances      []WorkloadVMRequest `json:"instances" binding:"required,min=1,dive"`
}

// UpdateWorkloadRequest only changes the fields that are present
type UpdateWorkloadRequest struct {
	Name        *string             `json:"name"`
	Description *string             `json:"description"`
	JobSchedule *domain.JobSchedule `json:"jobschedule"`
	Instances   []WorkloadVMRequest `json:"instances" binding:"omitempty,dive"`
}

type WorkloadVMResponse struct {
	ID       string            `json:"id"`
	VMID     string            `json:"vm_id"`
	VMName   string            `json:"vm_name"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type WorkloadResponse struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	UserID         string               `json:"user_id"`
	ProjectID      string               `json:"project_id"`
	Status         string               `json:"status"`
	SourcePlatform string               `json:"source_platform"`
	JobSchedule    domain.JobSchedule   `json:"jobschedule"`
	Metadata       map[string]string    `json:"metadata"`
	BackupTarget   string               `json:"backup_target,omitempty"`
	ErrorMsg       *string              `json:"error_msg,omitempty"`
	Version        string               `json:"version"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Instances      []WorkloadVMResponse `json:"instances,omitempty"`
}

type WorkloadListResponse struct {
	Items      []WorkloadResponse `json:"items"`
	Pagination PaginationInfo     `json:"pagination"`
}
