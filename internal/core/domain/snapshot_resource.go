package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ResourceType string

const (
	ResourceTypeDisk          ResourceType = "disk"
	ResourceTypeNIC           ResourceType = "nic"
	ResourceTypeSecurityGroup ResourceType = "security_group"
	ResourceTypeFlavor        ResourceType = "flavor"
	ResourceTypeNetwork       ResourceType = "network"
	ResourceTypeSubnet        ResourceType = "subnet"
	ResourceTypeRouter        ResourceType = "router"
)

func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeDisk, ResourceTypeNIC, ResourceTypeSecurityGroup, ResourceTypeFlavor,
		ResourceTypeNetwork, ResourceTypeSubnet, ResourceTypeRouter:
		return true
	}
	return false
}

// IsNetworking reports whether the resource's sub-records live under the network/ prefix.
func (t ResourceType) IsNetworking() bool {
	switch t {
	case ResourceTypeNIC, ResourceTypeNetwork, ResourceTypeSubnet, ResourceTypeRouter:
		return true
	}
	return false
}

// SnapshotVM is the per-VM record inside a snapshot.
type SnapshotVM struct {
	ID         string    `db:"id" json:"id"`
	SnapshotID string    `db:"snapshot_id" json:"snapshot_id"`
	VMID       string    `db:"vm_id" json:"vm_id"`
	VMName     string    `db:"vm_name" json:"vm_name"`
	Status     string    `db:"status" json:"status"`
	Size       int64     `db:"size" json:"size"`
	Metadata   Metadata  `db:"metadata" json:"metadata"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func NewSnapshotVM(snapshotID, vmID, vmName string) *SnapshotVM {
	return &SnapshotVM{
		ID:         uuid.New().String(),
		SnapshotID: snapshotID,
		VMID:       vmID,
		VMName:     vmName,
		Status:     string(SnapshotStatusCreating),
		Metadata:   Metadata{},
		CreatedAt:  time.Now().UTC(),
	}
}

type SnapshotResource struct {
	ID           string       `db:"id" json:"id"`
	SnapshotID   string       `db:"snapshot_id" json:"snapshot_id"`
	VMID         string       `db:"vm_id" json:"vm_id"`
	ResourceType ResourceType `db:"resource_type" json:"resource_type"`
	ResourceName string       `db:"resource_name" json:"resource_name"`
	Status       string       `db:"status" json:"status"`
	Size         int64        `db:"size" json:"size"`
	Metadata     Metadata     `db:"metadata" json:"metadata"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

func NewSnapshotResource(snapshotID, vmID string, resourceType ResourceType, name string) *SnapshotResource {
	return &SnapshotResource{
		ID:           uuid.New().String(),
		SnapshotID:   snapshotID,
		VMID:         vmID,
		ResourceType: resourceType,
		ResourceName: name,
		Status:       string(SnapshotStatusCreating),
		Metadata:     Metadata{},
		CreatedAt:    time.Now().UTC(),
	}
}

// Label is the path suffix of the resource directory with spaces removed.
func (r *SnapshotResource) Label() string {
	return strings.ReplaceAll(r.Metadata[MetaResourceLabel], " ", "")
}

// DiskResourceSnapshot is one link of a disk's backing chain. BackingID is
// nil for a full copy and otherwise names the link in the previous snapshot.
type DiskResourceSnapshot struct {
	ID                 string    `db:"id" json:"id"`
	SnapshotResourceID string    `db:"snapshot_resource_id" json:"snapshot_vm_resource_id"`
	SnapshotID         string    `db:"snapshot_id" json:"snapshot_id"`
	DiskID             string    `db:"disk_id" json:"disk_id"`
	BackingID          *string   `db:"backing_id" json:"vm_disk_resource_snap_backing_id,omitempty"`
	Name               string    `db:"name" json:"name"`
	VaultKey           string    `db:"vault_key" json:"vault_url"`
	Size               int64     `db:"size" json:"size"`
	RestoreSize        int64     `db:"restore_size" json:"restore_size"`
	Status             string    `db:"status" json:"status"`
	Metadata           Metadata  `db:"metadata" json:"metadata"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

func NewDiskResourceSnapshot(resource *SnapshotResource, diskID string, backingID *string) *DiskResourceSnapshot {
	return &DiskResourceSnapshot{
		ID:                 uuid.New().String(),
		SnapshotResourceID: resource.ID,
		SnapshotID:         resource.SnapshotID,
		DiskID:             diskID,
		BackingID:          backingID,
		Name:               resource.ResourceName,
		Status:             string(SnapshotStatusCreating),
		Metadata:           Metadata{},
		CreatedAt:          time.Now().UTC(),
	}
}

func (d *DiskResourceSnapshot) IsFull() bool {
	return d.BackingID == nil
}

type ResourceSnapKind string

const (
	ResourceSnapNetwork       ResourceSnapKind = "network"
	ResourceSnapSecurityGroup ResourceSnapKind = "security_group"
)

// ResourceSnap holds the type-specific sub-record of a network or security-group resource.
type ResourceSnap struct {
	ID                 string           `db:"id" json:"id"`
	SnapshotResourceID string           `db:"snapshot_resource_id" json:"snapshot_vm_resource_id"`
	SnapshotID         string           `db:"snapshot_id" json:"snapshot_id"`
	Kind               ResourceSnapKind `db:"kind" json:"kind"`
	Name               string           `db:"name" json:"name"`
	Data               Metadata         `db:"data" json:"data"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
}

func NewResourceSnap(resource *SnapshotResource, kind ResourceSnapKind, data Metadata) *ResourceSnap {
	return &ResourceSnap{
		ID:                 uuid.New().String(),
		SnapshotResourceID: resource.ID,
		SnapshotID:         resource.SnapshotID,
		Kind:               kind,
		Name:               resource.ResourceName,
		Data:               data,
		CreatedAt:          time.Now().UTC(),
	}
}
