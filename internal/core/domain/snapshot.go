package domain

import (
	"time"

	"github.com/google/uuid"
)

type SnapshotType string

const (
	SnapshotTypeFull        SnapshotType = "full"
	SnapshotTypeIncremental SnapshotType = "incremental"
)

type SnapshotStatus string

const (
	SnapshotStatusCreating    SnapshotStatus = "creating"
	SnapshotStatusExecuting   SnapshotStatus = "executing"
	SnapshotStatusAvailable   SnapshotStatus = "available"
	SnapshotStatusError       SnapshotStatus = "error"
	SnapshotStatusImportError SnapshotStatus = "import-error"
)

type Snapshot struct {
	ID              string         `db:"id" json:"id"`
	WorkloadID      string         `db:"workload_id" json:"workload_id"`
	Name            string         `db:"name" json:"display_name"`
	Description     string         `db:"description" json:"display_description"`
	SnapshotType    SnapshotType   `db:"snapshot_type" json:"snapshot_type"`
	Status          SnapshotStatus `db:"status" json:"status"`
	Size            int64          `db:"size" json:"size"`
	ProgressPercent int            `db:"progress_percent" json:"progress_percent"`
	ProgressMsg     string         `db:"progress_msg" json:"progress_msg"`
	ErrorMsg        *string        `db:"error_msg" json:"error_msg,omitempty"`
	UserID          string         `db:"user_id" json:"user_id"`
	ProjectID       string         `db:"project_id" json:"project_id"`
	Host            string         `db:"host" json:"host"`
	Version         string         `db:"version" json:"version"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
	FinishedAt      *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
}

func NewSnapshot(workload *Workload, snapshotType SnapshotType, name string) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		ID:           uuid.New().String(),
		WorkloadID:   workload.ID,
		Name:         name,
		SnapshotType: snapshotType,
		Status:       SnapshotStatusCreating,
		UserID:       workload.UserID,
		ProjectID:    workload.ProjectID,
		ProgressMsg:  "Snapshot of workload is starting",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsDeletable reports whether the snapshot has reached a state it can be purged from.
func (s *Snapshot) IsDeletable() bool {
	switch s.Status {
	case SnapshotStatusAvailable, SnapshotStatusError, SnapshotStatusImportError:
		return true
	}
	return false
}

func (s *Snapshot) SetProgress(percent int, msg string) {
	s.ProgressPercent = percent
	s.ProgressMsg = msg
	s.UpdatedAt = time.Now().UTC()
}

func (s *Snapshot) Complete(size int64) {
	now := time.Now().UTC()
	s.Status = SnapshotStatusAvailable
	s.Size = size
	s.ProgressPercent = 100
	s.ProgressMsg = "Snapshot of workload is complete"
	s.UpdatedAt = now
	s.FinishedAt = &now
}

func (s *Snapshot) Fail(msg string) {
	now := time.Now().UTC()
	s.Status = SnapshotStatusError
	s.ErrorMsg = &msg
	s.ProgressMsg = "Snapshot of workload failed"
	s.UpdatedAt = now
	s.FinishedAt = &now
}
