package vault

import (
	"fmt"
	"path"
	"strings"

	"github.com/martijn/vmvault/internal/core/domain"
)

const (
	workloadDirPrefix = "workload_"
	snapshotDirPrefix = "snapshot_"

	WorkloadDBName      = "workload_db"
	WorkloadVMsDBName   = "workload_vms_db"
	SnapshotDBName      = "snapshot_db"
	SnapshotVMsDBName   = "snapshot_vms_db"
	ResourcesDBName     = "resources_db"
	DiskDBName          = "disk_db"
	NetworkDBName       = "network_db"
	SecurityGroupDBName = "security_group_db"
	SettingsDBName      = "settings_db"

	networkDir       = "network"
	securityGroupDir = "security_group"
)

func WorkloadPrefix(workloadID string) string {
	return workloadDirPrefix + workloadID
}

func WorkloadDBKey(workloadID string) string {
	return path.Join(WorkloadPrefix(workloadID), WorkloadDBName)
}

func WorkloadVMsDBKey(workloadID string) string {
	return path.Join(WorkloadPrefix(workloadID), WorkloadVMsDBName)
}

func SnapshotPrefix(workloadID, snapshotID string) string {
	return path.Join(WorkloadPrefix(workloadID), snapshotDirPrefix+snapshotID)
}

func SnapshotDBKey(workloadID, snapshotID string) string {
	return path.Join(SnapshotPrefix(workloadID, snapshotID), SnapshotDBName)
}

func SnapshotVMsDBKey(workloadID, snapshotID string) string {
	return path.Join(SnapshotPrefix(workloadID, snapshotID), SnapshotVMsDBName)
}

func ResourcesDBKey(workloadID, snapshotID string) string {
	return path.Join(SnapshotPrefix(workloadID, snapshotID), ResourcesDBName)
}

// ResourcePrefix is the directory holding a resource's type specific
// sub-records. Flavors have no sub-tree and yield "".
func ResourcePrefix(workloadID string, res *domain.SnapshotResource) string {
	dir := "vm_res_id_" + res.ID
	if label := res.Label(); label != "" {
		dir += "_" + label
	}

	base := SnapshotPrefix(workloadID, res.SnapshotID)
	switch {
	case res.ResourceType == domain.ResourceTypeDisk:
		return path.Join(base, "vm_id_"+res.VMID, dir)
	case res.ResourceType.IsNetworking():
		return path.Join(base, networkDir, dir)
	case res.ResourceType == domain.ResourceTypeSecurityGroup:
		return path.Join(base, securityGroupDir, dir)
	}
	return ""
}

// ResourceDBKey is the metadata object of a resource's sub-tree.
func ResourceDBKey(workloadID string, res *domain.SnapshotResource) (string, error) {
	prefix := ResourcePrefix(workloadID, res)
	if prefix == "" {
		return "", fmt.Errorf("resource type %s has no vault sub-tree", res.ResourceType)
	}
	switch {
	case res.ResourceType == domain.ResourceTypeDisk:
		return path.Join(prefix, DiskDBName), nil
	case res.ResourceType.IsNetworking():
		return path.Join(prefix, NetworkDBName), nil
	default:
		return path.Join(prefix, SecurityGroupDBName), nil
	}
}

// DiskPayloadKey names the payload of one chain link after the link itself,
// so backing pointers double as stable object keys.
func DiskPayloadKey(workloadID string, res *domain.SnapshotResource, diskSnapshotID string) string {
	return path.Join(ResourcePrefix(workloadID, res), diskSnapshotID)
}

func SettingsKey(cloudUniqueID string) string {
	return path.Join(cloudUniqueID, SettingsDBName)
}

// LegacySettingsKey is where settings lived before they were namespaced per cloud.
func LegacySettingsKey() string {
	return SettingsDBName
}

// WorkloadIDFromKey extracts the workload id from any key below a workload prefix.
func WorkloadIDFromKey(key string) (string, bool) {
	first := strings.SplitN(key, "/", 2)[0]
	if !strings.HasPrefix(first, workloadDirPrefix) || len(first) == len(workloadDirPrefix) {
		return "", false
	}
	return strings.TrimPrefix(first, workloadDirPrefix), true
}

// SnapshotIDFromKey extracts the snapshot id from a key below a snapshot prefix.
func SnapshotIDFromKey(key string) (string, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[1], snapshotDirPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(parts[1], snapshotDirPrefix)
	return id, id != ""
}
