package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
)

// Disk payloads uploaded in parallel per VM
const uploadConcurrency = 4

type SnapshotOptions struct {
	Name        string
	Description string
	ForceFull   bool
}

type SnapshotService struct {
	workloads repository.WorkloadRepository
	snapshots repository.SnapshotRepository
	resources repository.SnapshotResourceRepository
	placement *PlacementService
	retention *RetentionService
	processes *ProcessService
	compute   ComputeDriver
	fs        afero.Fs
	gate      *semaphore.Weighted
	metrics   *metrics.ServerMetrics
	clock     clock.Clock
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

func NewSnapshotService(
	workloads repository.WorkloadRepository,
	snapshots repository.SnapshotRepository,
	resources repository.SnapshotResourceRepository,
	placement *PlacementService,
	retention *RetentionService,
	processes *ProcessService,
	compute ComputeDriver,
	fs afero.Fs,
	maxConcurrentStarts int64,
	m *metrics.ServerMetrics,
	clk clock.Clock,
	log logrus.FieldLogger,
) *SnapshotService {
	return &SnapshotService{
		workloads: workloads,
		snapshots: snapshots,
		resources: resources,
		placement: placement,
		retention: retention,
		processes: processes,
		compute:   compute,
		fs:        fs,
		gate:      semaphore.NewWeighted(maxConcurrentStarts),
		metrics:   m,
		clock:     clk,
		log:       log,
	}
}

// StartSnapshot locks the workload, records a new executing snapshot and
// captures it in the background. A workload that is not available, including
// one already locked by another snapshot, is rejected with InvalidState.
func (s *SnapshotService) StartSnapshot(ctx context.Context, workloadID string, opts SnapshotOptions) (*domain.Snapshot, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.gate.Release(1)

	workload, err := s.workloads.FindByID(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	if err := lockWorkload(ctx, s.workloads, workload); err != nil {
		return nil, err
	}

	snapshot, target, err := s.prepare(ctx, workload, opts)
	if err != nil {
		s.unlock(ctx, workload.ID)
		return nil, err
	}

	s.metrics.RegisterSnapshotAttempt(workload.ID)
	s.log.WithFields(logrus.Fields{
		"workload": workload.ID,
		"snapshot": snapshot.ID,
		"type":     snapshot.SnapshotType,
		"share":    target.Name(),
	}).Info("Starting snapshot")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.Background(), workload, snapshot, target)
	}()

	return snapshot, nil
}

func (s *SnapshotService) prepare(ctx context.Context, workload *domain.Workload, opts SnapshotOptions) (*domain.Snapshot, vault.Target, error) {
	snapshotType := domain.SnapshotTypeFull
	if !opts.ForceFull {
		var err error
		snapshotType, err = s.retention.DecideSnapshotType(ctx, workload)
		if err != nil {
			return nil, nil, err
		}
	}

	target, err := s.resolveTarget(ctx, workload)
	if err != nil {
		return nil, nil, err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", snapshotType, s.clock.Now().UTC().Format("2006-01-02 15:04"))
	}
	snapshot := domain.NewSnapshot(workload, snapshotType, name)
	snapshot.Description = opts.Description
	snapshot.CreatedAt = s.clock.Now().UTC()
	snapshot.UpdatedAt = snapshot.CreatedAt
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot: %w", err)
	}

	snapshot.Status = domain.SnapshotStatusExecuting
	snapshot.SetProgress(0, "Snapshot of workload is executing")
	if err := s.snapshots.Update(ctx, snapshot); err != nil {
		return nil, nil, fmt.Errorf("failed to update snapshot: %w", err)
	}
	return snapshot, target, nil
}

// resolveTarget confirms the workload's share, placing the workload first
// when it has none yet.
func (s *SnapshotService) resolveTarget(ctx context.Context, workload *domain.Workload) (vault.Target, error) {
	if name := workload.BackupTarget(); name != "" {
		return s.placement.Confirm(ctx, name)
	}

	vms, err := s.workloads.ListVMs(ctx, workload.ID)
	if err != nil {
		return nil, err
	}
	required := s.placement.Estimate(workload.JobSchedule, s.placement.DiskSize(vms))
	target, err := s.placement.SelectForWorkload(ctx, required)
	if err != nil {
		return nil, err
	}
	workload.Metadata[domain.MetaBackupMediaTarget] = target.Name()
	workload.Metadata[domain.MetaApproxBackupSize] = fmt.Sprintf("%d", required)
	if err := s.workloads.Update(ctx, workload); err != nil {
		return nil, fmt.Errorf("failed to record placement: %w", err)
	}
	return target, nil
}

func (s *SnapshotService) unlock(ctx context.Context, workloadID string) {
	unlockWorkload(ctx, s.workloads, s.log, workloadID)
}

func (s *SnapshotService) run(ctx context.Context, workload *domain.Workload, snapshot *domain.Snapshot, target vault.Target) {
	started := s.clock.Now()
	log := s.log.WithFields(logrus.Fields{"workload": workload.ID, "snapshot": snapshot.ID})

	size, err := s.capture(ctx, workload, snapshot, target)
	if err != nil {
		log.WithError(err).Error("Snapshot failed")
		snapshot.Fail(err.Error())
		if uerr := s.snapshots.Update(ctx, snapshot); uerr != nil {
			log.WithError(uerr).Error("Failed to record snapshot failure")
		}
		if perr := vault.PutJSON(ctx, target, vault.SnapshotDBKey(workload.ID, snapshot.ID), snapshot); perr != nil {
			log.WithError(perr).Warn("Failed to write snapshot_db of failed snapshot")
		}
		s.unlock(ctx, workload.ID)
		s.metrics.RegisterSnapshotFailure(workload.ID)
		return
	}

	snapshot.Complete(size)
	if err := s.snapshots.Update(ctx, snapshot); err != nil {
		log.WithError(err).Error("Failed to record snapshot completion")
	}
	if err := vault.PutJSON(ctx, target, vault.SnapshotDBKey(workload.ID, snapshot.ID), snapshot); err != nil {
		log.WithError(err).Error("Failed to write snapshot_db")
	}
	s.metrics.RegisterSnapshotSuccess(workload.ID, string(snapshot.SnapshotType), s.clock.Now().Sub(started).Seconds())
	log.WithField("size", size).Info("Snapshot complete")

	if _, err := s.retention.EnforceRetentionLocked(ctx, workload.ID); err != nil {
		log.WithError(err).Error("Retention after snapshot failed")
	}
	s.unlock(ctx, workload.ID)
}

func (s *SnapshotService) capture(ctx context.Context, workload *domain.Workload, snapshot *domain.Snapshot, target vault.Target) (int64, error) {
	vms, err := s.workloads.ListVMs(ctx, workload.ID)
	if err != nil {
		return 0, err
	}
	if len(vms) == 0 {
		return 0, fmt.Errorf("workload %s has no VMs", workload.ID)
	}

	full := snapshot.SnapshotType == domain.SnapshotTypeFull
	var total int64
	var snapVMs []*domain.SnapshotVM
	var resources []*domain.SnapshotResource
	for i, vm := range vms {
		snapshot.SetProgress(i*100/len(vms), fmt.Sprintf("Snapshotting VM %s", vm.VMName))
		if err := s.snapshots.Update(ctx, snapshot); err != nil {
			return 0, err
		}

		snapVM, vmResources, err := s.captureVM(ctx, workload, snapshot, target, vm, full)
		if err != nil {
			return 0, fmt.Errorf("failed to snapshot VM %s: %w", vm.VMID, err)
		}
		total += snapVM.Size
		snapVMs = append(snapVMs, snapVM)
		resources = append(resources, vmResources...)
	}

	if err := vault.PutJSON(ctx, target, vault.SnapshotVMsDBKey(workload.ID, snapshot.ID), snapVMs); err != nil {
		return 0, err
	}
	if err := vault.PutJSON(ctx, target, vault.ResourcesDBKey(workload.ID, snapshot.ID), resources); err != nil {
		return 0, err
	}
	return total, nil
}

// snapshotVM runs one pause, capture and resume cycle.
func (s *SnapshotService) snapshotVM(ctx context.Context, vmID string, full bool) (*VMCapture, error) {
	if err := s.compute.Pause(ctx, vmID); err != nil {
		return nil, err
	}
	capture, err := s.compute.Snapshot(ctx, vmID, full)
	if rerr := s.compute.Resume(ctx, vmID); rerr != nil {
		s.log.WithError(rerr).WithField("vm", vmID).Error("Failed to resume VM")
	}
	return capture, err
}

// latestLinks maps each disk of the VM to its newest link in a finished snapshot.
func (s *SnapshotService) latestLinks(ctx context.Context, workloadID, vmID string) (map[string]*domain.DiskResourceSnapshot, error) {
	links, err := s.resources.FindLatestDiskSnapshots(ctx, workloadID, vmID)
	if err != nil {
		return nil, err
	}
	byDisk := make(map[string]*domain.DiskResourceSnapshot, len(links))
	for _, l := range links {
		byDisk[l.DiskID] = l
	}
	return byDisk, nil
}

// captureVM snapshots one VM. An incremental snapshot still copies a VM in
// full when any of its disks has no earlier link to take a delta against.
func (s *SnapshotService) captureVM(ctx context.Context, workload *domain.Workload, snapshot *domain.Snapshot, target vault.Target, vm *domain.WorkloadVM, full bool) (*domain.SnapshotVM, []*domain.SnapshotResource, error) {
	log := s.log.WithFields(logrus.Fields{"workload": workload.ID, "snapshot": snapshot.ID, "vm": vm.VMID})

	bases := map[string]*domain.DiskResourceSnapshot{}
	if !full {
		var err error
		if bases, err = s.latestLinks(ctx, workload.ID, vm.VMID); err != nil {
			return nil, nil, err
		}
		if len(bases) == 0 {
			log.Info("VM has no earlier disk snapshot, capturing in full")
			full = true
		}
	}

	capture, err := s.snapshotVM(ctx, vm.VMID, full)
	if err != nil {
		return nil, nil, err
	}
	if !full {
		for _, disk := range capture.Disks {
			if bases[disk.DiskID] == nil {
				log.WithField("disk", disk.DiskID).Info("Disk has no earlier snapshot, capturing VM in full")
				full = true
				break
			}
		}
		if full {
			if capture, err = s.snapshotVM(ctx, vm.VMID, true); err != nil {
				return nil, nil, err
			}
		}
	}
	if full {
		bases = map[string]*domain.DiskResourceSnapshot{}
	}

	snapVM := domain.NewSnapshotVM(snapshot.ID, vm.VMID, vm.VMName)
	for k, v := range vm.Metadata {
		snapVM.Metadata[k] = v
	}
	snapVM.Metadata[domain.MetaBackupType] = string(domain.SnapshotTypeIncremental)
	if full {
		snapVM.Metadata[domain.MetaBackupType] = string(domain.SnapshotTypeFull)
	}
	if err := s.snapshots.UpsertVM(ctx, snapVM); err != nil {
		return nil, nil, err
	}

	var resources []*domain.SnapshotResource
	var links []*domain.DiskResourceSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, disk := range capture.Disks {
		var backing *string
		if base := bases[disk.DiskID]; base != nil {
			backing = &base.ID
		}
		res, link, err := s.recordDisk(ctx, workload, snapshot, vm.VMID, disk, backing)
		if err != nil {
			_ = g.Wait()
			return nil, nil, err
		}
		resources = append(resources, res)
		links = append(links, link)

		path := disk.Path
		g.Go(func() error {
			return s.upload(gctx, workload.ID, target, res, link, path)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, rc := range capture.Resources {
		res, err := s.recordResource(ctx, workload, snapshot, target, vm.VMID, rc)
		if err != nil {
			return nil, nil, err
		}
		resources = append(resources, res)
	}

	for _, link := range links {
		snapVM.Size += link.Size
	}
	snapVM.Status = string(domain.SnapshotStatusAvailable)
	if err := s.snapshots.UpsertVM(ctx, snapVM); err != nil {
		return nil, nil, err
	}
	return snapVM, resources, nil
}

// recordDisk creates the disk resource and its chain link. backing is the
// link the staged delta was taken against, nil for a full copy.
func (s *SnapshotService) recordDisk(ctx context.Context, workload *domain.Workload, snapshot *domain.Snapshot, vmID string, disk DiskCapture, backing *string) (*domain.SnapshotResource, *domain.DiskResourceSnapshot, error) {
	res := domain.NewSnapshotResource(snapshot.ID, vmID, domain.ResourceTypeDisk, disk.Name)
	for k, v := range disk.Meta {
		res.Metadata[k] = v
	}
	if disk.Label != "" {
		res.Metadata[domain.MetaResourceLabel] = disk.Label
	}
	res.Metadata["disk_id"] = disk.DiskID
	if err := s.resources.Upsert(ctx, res); err != nil {
		return nil, nil, err
	}

	link := domain.NewDiskResourceSnapshot(res, disk.DiskID, backing)
	link.VaultKey = vault.DiskPayloadKey(workload.ID, res, link.ID)
	link.RestoreSize = disk.Size
	if err := s.resources.UpsertDiskSnapshot(ctx, link); err != nil {
		return nil, nil, err
	}
	return res, link, nil
}

// upload copies a staged disk payload into the vault, tracked by an upload
// process. The marker is written outside ctx so it always reaches a final
// status, also when a sibling upload cancelled the group.
func (s *SnapshotService) upload(ctx context.Context, workloadID string, target vault.Target, res *domain.SnapshotResource, link *domain.DiskResourceSnapshot, path string) error {
	bg := context.WithoutCancel(ctx)
	process, err := s.processes.CreateProcess(bg, "upload", domain.ProcessTypeUpload, map[string]interface{}{
		"id":          link.ID,
		"snapshot_id": link.SnapshotID,
		"key":         link.VaultKey,
	})
	if err != nil {
		return err
	}
	if err := s.processes.MarkStarted(bg, process); err != nil {
		s.processes.Finish(bg, process, link.VaultKey, err)
		return err
	}

	if err = ctx.Err(); err == nil {
		err = s.copyPayload(ctx, workloadID, target, res, link, path)
	}
	s.processes.Finish(bg, process, link.VaultKey, err)
	return err
}

func (s *SnapshotService) copyPayload(ctx context.Context, workloadID string, target vault.Target, res *domain.SnapshotResource, link *domain.DiskResourceSnapshot, path string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open staged disk %s: %w", path, err)
	}
	defer f.Close()

	if err := target.Put(ctx, link.VaultKey, f); err != nil {
		return err
	}
	info, err := target.Stat(ctx, link.VaultKey)
	if err != nil {
		return err
	}
	link.Size = info.Size
	link.Status = string(domain.SnapshotStatusAvailable)
	if err := s.resources.UpsertDiskSnapshot(ctx, link); err != nil {
		return err
	}

	res.Size = link.Size
	res.Status = string(domain.SnapshotStatusAvailable)
	if err := s.resources.Upsert(ctx, res); err != nil {
		return err
	}
	s.metrics.RegisterUploadBytes(target.Name(), link.Size)

	key, err := vault.ResourceDBKey(workloadID, res)
	if err != nil {
		return err
	}
	return vault.PutJSON(ctx, target, key, []*domain.DiskResourceSnapshot{link})
}

// recordResource stores a non-disk resource. Network and security-group
// resources also get a sub-record and a JSON copy under their prefix.
func (s *SnapshotService) recordResource(ctx context.Context, workload *domain.Workload, snapshot *domain.Snapshot, target vault.Target, vmID string, rc ResourceCapture) (*domain.SnapshotResource, error) {
	if !rc.Type.Valid() || rc.Type == domain.ResourceTypeDisk {
		return nil, fmt.Errorf("unexpected resource type %q", rc.Type)
	}
	res := domain.NewSnapshotResource(snapshot.ID, vmID, rc.Type, rc.Name)
	for k, v := range rc.Metadata {
		res.Metadata[k] = v
	}
	res.Status = string(domain.SnapshotStatusAvailable)
	if err := s.resources.Upsert(ctx, res); err != nil {
		return nil, err
	}

	var kind domain.ResourceSnapKind
	switch {
	case rc.Type.IsNetworking():
		kind = domain.ResourceSnapNetwork
	case rc.Type == domain.ResourceTypeSecurityGroup:
		kind = domain.ResourceSnapSecurityGroup
	default:
		// flavors are fully described by resources_db
		return res, nil
	}

	sub := domain.NewResourceSnap(res, kind, rc.Data)
	if err := s.resources.UpsertResourceSnap(ctx, sub); err != nil {
		return nil, err
	}
	key, err := vault.ResourceDBKey(workload.ID, res)
	if err != nil {
		return nil, err
	}
	if err := vault.PutJSON(ctx, target, key, []*domain.ResourceSnap{sub}); err != nil {
		return nil, err
	}
	return res, nil
}

// Wait blocks until every background snapshot has finished.
func (s *SnapshotService) Wait() {
	s.wg.Wait()
}

func (s *SnapshotService) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	return s.snapshots.FindByID(ctx, id)
}

func (s *SnapshotService) ListSnapshots(ctx context.Context, filter repository.SnapshotFilter) ([]*domain.Snapshot, error) {
	return s.snapshots.List(ctx, filter)
}

func (s *SnapshotService) CountSnapshots(ctx context.Context, filter repository.SnapshotFilter) (int, error) {
	return s.snapshots.Count(ctx, filter)
}

// SnapshotDetail is a snapshot with its VMs, resources and disk chain links.
type SnapshotDetail struct {
	*domain.Snapshot
	VMs       []*domain.SnapshotVM           `json:"vms"`
	Resources []*domain.SnapshotResource     `json:"resources"`
	Disks     []*domain.DiskResourceSnapshot `json:"disks"`
}

func (s *SnapshotService) GetSnapshotDetail(ctx context.Context, id string) (*SnapshotDetail, error) {
	snapshot, err := s.snapshots.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	vms, err := s.snapshots.ListVMs(ctx, id)
	if err != nil {
		return nil, err
	}
	resources, err := s.resources.ListBySnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	disks, err := s.resources.ListDiskSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SnapshotDetail{Snapshot: snapshot, VMs: vms, Resources: resources, Disks: disks}, nil
}

// DeleteSnapshot purges a snapshot through the chain-safe retention check.
func (s *SnapshotService) DeleteSnapshot(ctx context.Context, id string) error {
	return s.retention.DeleteSnapshot(ctx, id)
}

// RecoverInterrupted fails snapshots left running by a previous process and
// releases the locks their workloads still hold.
func (s *SnapshotService) RecoverInterrupted(ctx context.Context) (int, error) {
	locked, err := s.workloads.FindByStatus(ctx, domain.WorkloadStatusLocked)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, workload := range locked {
		snapshots, err := s.snapshots.FindByWorkload(ctx, workload.ID)
		if err != nil {
			return recovered, err
		}
		for _, snap := range snapshots {
			if snap.IsDeletable() {
				continue
			}
			snap.Fail("interrupted by service restart")
			if err := s.snapshots.Update(ctx, snap); err != nil {
				return recovered, err
			}
			recovered++
		}
		s.unlock(ctx, workload.ID)
	}
	return recovered, nil
}
