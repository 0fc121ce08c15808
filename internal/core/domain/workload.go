package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type WorkloadStatus string

const (
	WorkloadStatusCreating  WorkloadStatus = "creating"
	WorkloadStatusAvailable WorkloadStatus = "available"
	WorkloadStatusLocked    WorkloadStatus = "locked"
	WorkloadStatusDeleted   WorkloadStatus = "deleted"
	WorkloadStatusError     WorkloadStatus = "error"
)

const (
	MetaBackupMediaTarget = "backup_media_target"
	MetaApproxBackupSize  = "workload_approx_backup_size"
	MetaResourceLabel     = "label"
	MetaDiskSize          = "disk_size"
	MetaBackupType        = "backup_type"
	DefaultSourcePlatform = "openstack"
)

// Metadata is a flat string map persisted as JSON.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// Int64 returns the metadata value for key parsed as an integer.
func (m Metadata) Int64(key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

type Workload struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"display_name"`
	Description    string         `db:"description" json:"display_description"`
	UserID         string         `db:"user_id" json:"user_id"`
	ProjectID      string         `db:"project_id" json:"project_id"`
	Status         WorkloadStatus `db:"status" json:"status"`
	SourcePlatform string         `db:"source_platform" json:"source_platform"`
	JobSchedule    JobSchedule    `db:"jobschedule" json:"jobschedule"`
	Metadata       Metadata       `db:"metadata" json:"metadata"`
	ErrorMsg       *string        `db:"error_msg" json:"error_msg,omitempty"`
	Host           string         `db:"host" json:"host"`
	Version        string         `db:"version" json:"version"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

func NewWorkload(name, userID, projectID string, schedule JobSchedule) *Workload {
	now := time.Now().UTC()
	return &Workload{
		ID:             uuid.New().String(),
		Name:           name,
		UserID:         userID,
		ProjectID:      projectID,
		Status:         WorkloadStatusCreating,
		SourcePlatform: DefaultSourcePlatform,
		JobSchedule:    schedule,
		Metadata:       Metadata{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// BackupTarget is the name of the share holding this workload's vault data.
func (w *Workload) BackupTarget() string {
	return w.Metadata[MetaBackupMediaTarget]
}

func (w *Workload) Fail(msg string) {
	w.Status = WorkloadStatusError
	w.ErrorMsg = &msg
	w.UpdatedAt = time.Now().UTC()
}

type WorkloadVM struct {
	ID         string    `db:"id" json:"id"`
	WorkloadID string    `db:"workload_id" json:"workload_id"`
	VMID       string    `db:"vm_id" json:"vm_id"`
	VMName     string    `db:"vm_name" json:"vm_name"`
	Status     string    `db:"status" json:"status"`
	Metadata   Metadata  `db:"metadata" json:"metadata"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func NewWorkloadVM(workloadID, vmID, vmName string) *WorkloadVM {
	return &WorkloadVM{
		ID:         uuid.New().String(),
		WorkloadID: workloadID,
		VMID:       vmID,
		VMName:     vmName,
		Status:     "available",
		Metadata:   Metadata{},
		CreatedAt:  time.Now().UTC(),
	}
}
