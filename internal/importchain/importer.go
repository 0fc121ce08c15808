// Package importchain rebuilds workloads, snapshots and settings from the
// vault tree of a share, lifting older on-disk formats through a chain of
// versioned adapters.
package importchain

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
)

type Mode string

const (
	// ModeUpgrade imports into the cloud the data was written from.
	ModeUpgrade Mode = "upgrade"
	// ModeMigrate imports data written by another cloud.
	ModeMigrate Mode = "migrate"
)

// IdentityResolver checks tenants and users on the destination cloud.
type IdentityResolver interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	ResolveUser(ctx context.Context, userID, projectID string) (bool, error)
}

type Options struct {
	Mode Mode
	// WorkloadIDs limits the import; empty imports every workload found.
	WorkloadIDs []string
	// UserID replaces stored users that do not exist on the destination cloud.
	UserID string
	// Settings also imports the cloud-wide settings object.
	Settings bool
}

type Result struct {
	Imported []string          `json:"imported"`
	Failed   map[string]string `json:"failed,omitempty"`
	// Snapshots flagged import-error, with the first resource error
	SnapshotErrors map[string]string `json:"snapshot_errors,omitempty"`
	Settings       int               `json:"settings"`
}

func (r *Result) fail(id string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[id] = err.Error()
}

type Importer struct {
	registry  *Registry
	workloads repository.WorkloadRepository
	snapshots repository.SnapshotRepository
	resources repository.SnapshotResourceRepository
	settings  repository.SettingRepository
	identity  IdentityResolver
	cloudID   string
	metrics   *metrics.ServerMetrics
	log       logrus.FieldLogger
}

func NewImporter(
	registry *Registry,
	workloads repository.WorkloadRepository,
	snapshots repository.SnapshotRepository,
	resources repository.SnapshotResourceRepository,
	settings repository.SettingRepository,
	identity IdentityResolver,
	cloudID string,
	m *metrics.ServerMetrics,
	log logrus.FieldLogger,
) *Importer {
	return &Importer{
		registry:  registry,
		workloads: workloads,
		snapshots: snapshots,
		resources: resources,
		settings:  settings,
		identity:  identity,
		cloudID:   cloudID,
		metrics:   m,
		log:       log,
	}
}

// Import walks every target and upserts what it finds. Failures are isolated
// per workload and reported in the result; the error return is reserved for
// problems that stop the whole batch.
func (im *Importer) Import(ctx context.Context, targets []vault.Target, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeUpgrade
	}
	if opts.Mode != ModeUpgrade && opts.Mode != ModeMigrate {
		return nil, fmt.Errorf("unknown import mode %q", opts.Mode)
	}
	if opts.Mode == ModeMigrate && im.identity == nil {
		return nil, fmt.Errorf("migrate import requires an identity resolver")
	}

	wanted := make(map[string]bool, len(opts.WorkloadIDs))
	for _, id := range opts.WorkloadIDs {
		wanted[id] = true
	}

	result := &Result{}
	seen := make(map[string]bool)
	for _, target := range targets {
		ids, err := workloadIDs(ctx, target)
		if err != nil {
			im.log.WithError(err).WithField("share", target.Name()).Error("Failed to list share")
			continue
		}
		for _, id := range ids {
			if seen[id] || (len(wanted) > 0 && !wanted[id]) {
				continue
			}
			seen[id] = true
			if err := im.importWorkload(ctx, target, id, opts, result); err != nil {
				im.log.WithError(err).WithField("workload", id).Error("Failed to import workload")
				im.metrics.RegisterImportError()
				result.fail(id, err)
				continue
			}
			result.Imported = append(result.Imported, id)
		}
	}
	for id := range wanted {
		if !seen[id] {
			result.fail(id, domain.NewNotFound("workload", id))
		}
	}

	if opts.Settings {
		n, err := im.importSettings(ctx, targets)
		if err != nil {
			im.log.WithError(err).Error("Failed to import settings")
			result.fail("settings", err)
		}
		result.Settings = n
	}
	return result, nil
}

// workloadIDs lists the workloads with a workload_db on target.
func workloadIDs(ctx context.Context, target vault.Target) ([]string, error) {
	keys, err := target.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		id, ok := vault.WorkloadIDFromKey(key)
		if ok && key == vault.WorkloadDBKey(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type walk struct {
	target  vault.Target
	adapter Adapter
	opts    Options
	// set when a migrate import replaced the stored owner
	userID string
}

func (im *Importer) importWorkload(ctx context.Context, target vault.Target, id string, opts Options, result *Result) error {
	rec, err := readRecord(ctx, target, vault.WorkloadDBKey(id))
	if err != nil {
		return err
	}
	stored := stringField(rec, "version")
	w := &walk{target: target, adapter: im.registry.Current(), opts: opts}

	var workload domain.Workload
	if err := decode(w.adapter.Normalize(KindWorkload, rec, stored), &workload); err != nil {
		return domain.NewImportError("workload", id, err)
	}
	if workload.ID != id {
		return domain.NewImportError("workload", id, fmt.Errorf("workload_db holds id %q", workload.ID))
	}

	if opts.Mode == ModeMigrate {
		rewritten, err := im.resolveOwner(ctx, &workload, opts)
		if err != nil {
			return err
		}
		if rewritten {
			w.userID = workload.UserID
		}
	}

	// a snapshot that was running when the data was written is long gone,
	// but the lock of one running on this node right now is kept
	if workload.Status == domain.WorkloadStatusLocked {
		workload.Status = domain.WorkloadStatusAvailable
	}
	live, err := im.workloads.FindByID(ctx, id)
	switch {
	case err == nil:
		if live.Status == domain.WorkloadStatusLocked {
			workload.Status = domain.WorkloadStatusLocked
		}
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if workload.Metadata == nil {
		workload.Metadata = domain.Metadata{}
	}
	workload.Metadata[domain.MetaBackupMediaTarget] = target.Name()

	if err := im.workloads.Upsert(ctx, &workload); err != nil {
		return err
	}
	if w.userID != "" {
		if err := vault.PutJSON(ctx, target, vault.WorkloadDBKey(id), &workload); err != nil {
			return err
		}
	}

	if err := im.importWorkloadVMs(ctx, w, &workload, stored); err != nil {
		return err
	}

	snapshots, err := im.readSnapshots(ctx, w, id)
	if err != nil {
		return err
	}
	for _, snap := range snapshots {
		if err := im.importSnapshot(ctx, w, &workload, snap); err != nil {
			if result.SnapshotErrors == nil {
				result.SnapshotErrors = make(map[string]string)
			}
			result.SnapshotErrors[snap.ID] = err.Error()
		}
	}

	im.log.WithFields(logrus.Fields{
		"workload":  id,
		"share":     target.Name(),
		"snapshots": len(snapshots),
		"version":   stored,
		"mode":      opts.Mode,
	}).Info("Imported workload")
	return nil
}

// resolveOwner checks the stored project on the destination cloud and swaps
// in the importing user when the stored one cannot be resolved there.
func (im *Importer) resolveOwner(ctx context.Context, workload *domain.Workload, opts Options) (bool, error) {
	ok, err := im.identity.ProjectExists(ctx, workload.ProjectID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.NewNotFound("project", workload.ProjectID)
	}

	ok, err = im.identity.ResolveUser(ctx, workload.UserID, workload.ProjectID)
	if err != nil {
		return false, err
	}
	if ok || opts.UserID == "" || opts.UserID == workload.UserID {
		return false, nil
	}
	im.log.WithFields(logrus.Fields{
		"workload": workload.ID,
		"from":     workload.UserID,
		"to":       opts.UserID,
	}).Info("Reassigning workload owner")
	workload.UserID = opts.UserID
	return true, nil
}

func (im *Importer) importWorkloadVMs(ctx context.Context, w *walk, workload *domain.Workload, stored string) error {
	recs, err := readRecords(ctx, w.target, vault.WorkloadVMsDBKey(workload.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, rec := range recs {
		var vm domain.WorkloadVM
		if err := decode(w.adapter.Normalize(KindWorkloadVM, rec, stored), &vm); err != nil {
			return domain.NewImportError("workload vm", stringField(rec, "id"), err)
		}
		vm.WorkloadID = workload.ID
		if err := im.workloads.UpsertVM(ctx, &vm); err != nil {
			return err
		}
	}
	return nil
}

type storedSnapshot struct {
	*domain.Snapshot
	version string
}

// readSnapshots decodes every snapshot_db below the workload, oldest first.
func (im *Importer) readSnapshots(ctx context.Context, w *walk, workloadID string) ([]storedSnapshot, error) {
	keys, err := w.target.List(ctx, vault.WorkloadPrefix(workloadID)+"/")
	if err != nil {
		return nil, err
	}

	var snapshots []storedSnapshot
	for _, key := range keys {
		snapID, ok := vault.SnapshotIDFromKey(key)
		if !ok || key != vault.SnapshotDBKey(workloadID, snapID) {
			continue
		}
		rec, err := readRecord(ctx, w.target, key)
		if err != nil {
			return nil, err
		}
		stored := stringField(rec, "version")
		var snap domain.Snapshot
		if err := decode(w.adapter.Normalize(KindSnapshot, rec, stored), &snap); err != nil {
			im.log.WithError(err).WithField("key", key).Error("Skipping undecodable snapshot")
			continue
		}
		snap.WorkloadID = workloadID
		snapshots = append(snapshots, storedSnapshot{Snapshot: &snap, version: stored})
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// importSnapshot upserts one snapshot and its sub-tree. Resource failures do
// not stop the walk; they flag the snapshot import-error.
func (im *Importer) importSnapshot(ctx context.Context, w *walk, workload *domain.Workload, stored storedSnapshot) error {
	snap := stored.Snapshot
	log := im.log.WithFields(logrus.Fields{"workload": workload.ID, "snapshot": snap.ID})

	if w.userID != "" {
		snap.UserID = w.userID
		snap.ProjectID = workload.ProjectID
		if err := vault.PutJSON(ctx, w.target, vault.SnapshotDBKey(workload.ID, snap.ID), snap); err != nil {
			log.WithError(err).Warn("Failed to rewrite snapshot owner in vault")
		}
	}
	if err := im.snapshots.Upsert(ctx, snap); err != nil {
		return err
	}

	var errs []string
	record := func(err error) {
		log.WithError(err).Error("Failed to import snapshot resource")
		im.metrics.RegisterImportError()
		errs = append(errs, err.Error())
	}

	if err := im.importSnapshotVMs(ctx, w, workload.ID, stored); err != nil {
		record(err)
	}

	resources, err := readRecords(ctx, w.target, vault.ResourcesDBKey(workload.ID, snap.ID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		record(err)
	}
	for _, rec := range resources {
		if err := im.importResource(ctx, w, workload.ID, stored, rec); err != nil {
			record(err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	msg := strings.Join(errs, "; ")
	snap.Status = domain.SnapshotStatusImportError
	snap.ErrorMsg = &msg
	if err := im.snapshots.Upsert(ctx, snap); err != nil {
		log.WithError(err).Error("Failed to flag snapshot import-error")
	}
	return domain.NewImportError("snapshot", snap.ID, errors.New(errs[0]))
}

func (im *Importer) importSnapshotVMs(ctx context.Context, w *walk, workloadID string, stored storedSnapshot) error {
	recs, err := readRecords(ctx, w.target, vault.SnapshotVMsDBKey(workloadID, stored.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, rec := range recs {
		var vm domain.SnapshotVM
		if err := decode(w.adapter.Normalize(KindSnapshotVM, rec, stored.version), &vm); err != nil {
			return domain.NewImportError("snapshot vm", stringField(rec, "id"), err)
		}
		vm.SnapshotID = stored.ID
		if err := im.snapshots.UpsertVM(ctx, &vm); err != nil {
			return err
		}
	}
	return nil
}

// importResource upserts a resource and dispatches on its type to read the
// type specific sub-tree.
func (im *Importer) importResource(ctx context.Context, w *walk, workloadID string, stored storedSnapshot, rec Record) error {
	var res domain.SnapshotResource
	if err := decode(w.adapter.Normalize(KindResource, rec, stored.version), &res); err != nil {
		return domain.NewImportError("snapshot resource", stringField(rec, "id"), err)
	}
	if !res.ResourceType.Valid() {
		return domain.NewImportError("snapshot resource", res.ID, fmt.Errorf("unknown resource type %q", res.ResourceType))
	}
	res.SnapshotID = stored.ID
	if err := im.resources.Upsert(ctx, &res); err != nil {
		return err
	}

	switch {
	case res.ResourceType == domain.ResourceTypeDisk:
		return im.importDisk(ctx, w, workloadID, stored, &res)
	case res.ResourceType.IsNetworking(), res.ResourceType == domain.ResourceTypeSecurityGroup:
		return im.importResourceSnaps(ctx, w, workloadID, stored, &res)
	}
	return nil
}

func (im *Importer) importDisk(ctx context.Context, w *walk, workloadID string, stored storedSnapshot, res *domain.SnapshotResource) error {
	key, err := vault.ResourceDBKey(workloadID, res)
	if err != nil {
		return err
	}
	recs, err := readRecords(ctx, w.target, key)
	if err != nil {
		return domain.NewImportError("disk", res.ID, err)
	}
	for _, rec := range recs {
		var link domain.DiskResourceSnapshot
		if err := decode(w.adapter.Normalize(KindDiskSnapshot, rec, stored.version), &link); err != nil {
			return domain.NewImportError("disk snapshot", stringField(rec, "id"), err)
		}
		link.SnapshotResourceID = res.ID
		link.SnapshotID = stored.ID
		if link.VaultKey == "" {
			link.VaultKey = vault.DiskPayloadKey(workloadID, res, link.ID)
		}
		if ok, err := vault.Exists(ctx, w.target, link.VaultKey); err != nil {
			return err
		} else if !ok {
			return domain.NewImportError("disk snapshot", link.ID, fmt.Errorf("payload %s is missing", path.Base(link.VaultKey)))
		}
		if err := im.resources.UpsertDiskSnapshot(ctx, &link); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) importResourceSnaps(ctx context.Context, w *walk, workloadID string, stored storedSnapshot, res *domain.SnapshotResource) error {
	key, err := vault.ResourceDBKey(workloadID, res)
	if err != nil {
		return err
	}
	recs, err := readRecords(ctx, w.target, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.NewImportError(string(res.ResourceType), res.ID, err)
	}
	for _, rec := range recs {
		var sub domain.ResourceSnap
		if err := decode(w.adapter.Normalize(KindResourceSnap, rec, stored.version), &sub); err != nil {
			return domain.NewImportError("resource snap", stringField(rec, "id"), err)
		}
		sub.SnapshotResourceID = res.ID
		sub.SnapshotID = stored.ID
		if err := im.resources.UpsertResourceSnap(ctx, &sub); err != nil {
			return err
		}
	}
	return nil
}

// importSettings reads the first settings object found, preferring the
// per-cloud location over the legacy root one.
func (im *Importer) importSettings(ctx context.Context, targets []vault.Target) (int, error) {
	keys := []string{vault.SettingsKey(im.cloudID), vault.LegacySettingsKey()}
	for _, key := range keys {
		for _, target := range targets {
			recs, err := readRecords(ctx, target, key)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, err
			}
			return im.upsertSettings(ctx, recs)
		}
	}
	return 0, nil
}

func (im *Importer) upsertSettings(ctx context.Context, recs []Record) (int, error) {
	n := 0
	for _, rec := range recs {
		var setting domain.Setting
		if err := decode(im.registry.Current().Normalize(KindSetting, rec, stringField(rec, "version")), &setting); err != nil {
			return n, domain.NewImportError("setting", stringField(rec, "name"), err)
		}
		if setting.Name == "" {
			continue
		}
		if setting.Metadata == nil {
			setting.Metadata = domain.Metadata{}
		}
		if err := im.settings.Upsert(ctx, &setting); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
