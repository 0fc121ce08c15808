package service

import (
	"context"

	"github.com/martijn/vmvault/internal/core/domain"
)

// DiskCapture is one disk of a VM as produced by the compute driver. Path
// points at a staged file holding the full image or the delta since the
// previous capture.
type DiskCapture struct {
	DiskID string          `json:"disk_id"`
	Name   string          `json:"name"`
	Label  string          `json:"label"`
	Size   int64           `json:"size"`
	Path   string          `json:"path"`
	Meta   domain.Metadata `json:"metadata"`
}

// ResourceCapture is a non-disk resource of a VM (nic, flavor, network, ...).
type ResourceCapture struct {
	Type     domain.ResourceType `json:"type"`
	Name     string              `json:"name"`
	Metadata domain.Metadata     `json:"metadata"`
	Data     domain.Metadata     `json:"data"`
}

type VMCapture struct {
	VMID      string            `json:"vm_id"`
	VMName    string            `json:"vm_name"`
	Disks     []DiskCapture     `json:"disks"`
	Resources []ResourceCapture `json:"resources"`
}

// ComputeDriver is the hypervisor side of a snapshot.
type ComputeDriver interface {
	Pause(ctx context.Context, vmID string) error
	Resume(ctx context.Context, vmID string) error
	// Snapshot captures the VM. With full set every disk is copied whole,
	// otherwise only the changes since the previous capture are staged.
	Snapshot(ctx context.Context, vmID string, full bool) (*VMCapture, error)
}

// ScheduleObserver is told when a workload's schedule must be (re)registered.
type ScheduleObserver interface {
	WorkloadChanged(workload *domain.Workload)
	WorkloadRemoved(workloadID string)
}
