package dto

import "time"

type StartSnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Full forces a full snapshot regardless of the schedule
	Full bool `json:"full"`
}

type SnapshotResponse struct {
	ID              string     `json:"id"`
	WorkloadID      string     `json:"workload_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	SnapshotType    string     `json:"snapshot_type"`
	Status          string     `json:"status"`
	Size            int64      `json:"size"`
	ProgressPercent int        `json:"progress_percent"`
	ProgressMsg     string     `json:"progress_msg,omitempty"`
	ErrorMsg        *string    `json:"error_msg,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

type SnapshotListResponse struct {
	Items      []SnapshotResponse `json:"items"`
	Pagination PaginationInfo     `json:"pagination"`
}

type DiskSnapshotResponse struct {
	ID          string  `json:"id"`
	DiskID      string  `json:"disk_id"`
	Name        string  `json:"name"`
	BackingID   *string `json:"backing_id,omitempty"`
	VaultKey    string  `json:"vault_key"`
	Size        int64   `json:"size"`
	RestoreSize int64   `json:"restore_size"`
	Status      string  `json:"status"`
}

type SnapshotResourceResponse struct {
	ID           string            `json:"id"`
	VMID         string            `json:"vm_id"`
	ResourceType string            `json:"resource_type"`
	ResourceName string            `json:"resource_name"`
	Status       string            `json:"status"`
	Size         int64             `json:"size"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type SnapshotVMResponse struct {
	VMID   string `json:"vm_id"`
	VMName string `json:"vm_name"`
	Status string `json:"status"`
	Size   int64  `json:"size"`
}

type SnapshotDetailResponse struct {
	SnapshotResponse
	Instances []SnapshotVMResponse       `json:"instances"`
	Resources []SnapshotResourceResponse `json:"resources"`
	Disks     []DiskSnapshotResponse     `json:"disks"`
}
