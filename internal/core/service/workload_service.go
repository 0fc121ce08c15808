package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/vault"
)

type WorkloadVMSpec struct {
	VMID     string
	VMName   string
	Metadata domain.Metadata
}

type CreateWorkloadRequest struct {
	Name           string
	Description    string
	UserID         string
	ProjectID      string
	SourcePlatform string
	JobSchedule    domain.JobSchedule
	Metadata       domain.Metadata
	VMs            []WorkloadVMSpec
}

// ModifyWorkloadRequest changes the fields that are set. A nil VMs slice
// leaves membership untouched.
type ModifyWorkloadRequest struct {
	Name        *string
	Description *string
	JobSchedule *domain.JobSchedule
	VMs         []WorkloadVMSpec
}

type WorkloadService struct {
	workloads repository.WorkloadRepository
	snapshots repository.SnapshotRepository
	placement *PlacementService
	observer  ScheduleObserver
	log       logrus.FieldLogger
}

func NewWorkloadService(
	workloads repository.WorkloadRepository,
	snapshots repository.SnapshotRepository,
	placement *PlacementService,
	log logrus.FieldLogger,
) *WorkloadService {
	return &WorkloadService{
		workloads: workloads,
		snapshots: snapshots,
		placement: placement,
		log:       log,
	}
}

// SetObserver registers the scheduler to be told about schedule changes.
func (s *WorkloadService) SetObserver(observer ScheduleObserver) {
	s.observer = observer
}

func (s *WorkloadService) CreateWorkload(ctx context.Context, req CreateWorkloadRequest) (*domain.Workload, error) {
	if req.Name == "" {
		return nil, invalidField("name", "is required")
	}
	if len(req.VMs) == 0 {
		return nil, invalidField("instances", "at least one VM is required")
	}
	if err := req.JobSchedule.Validate(); err != nil {
		return nil, invalidField("jobschedule", "%v", err)
	}

	workload := domain.NewWorkload(req.Name, req.UserID, req.ProjectID, req.JobSchedule)
	workload.Description = req.Description
	if req.SourcePlatform != "" {
		workload.SourcePlatform = req.SourcePlatform
	}
	for k, v := range req.Metadata {
		workload.Metadata[k] = v
	}
	if err := s.workloads.Create(ctx, workload); err != nil {
		return nil, fmt.Errorf("failed to create workload: %w", err)
	}

	vms := make([]*domain.WorkloadVM, 0, len(req.VMs))
	for _, spec := range req.VMs {
		vm := domain.NewWorkloadVM(workload.ID, spec.VMID, spec.VMName)
		for k, v := range spec.Metadata {
			vm.Metadata[k] = v
		}
		if err := s.workloads.UpsertVM(ctx, vm); err != nil {
			return nil, s.fail(ctx, workload, err)
		}
		vms = append(vms, vm)
	}

	required := s.placement.Estimate(workload.JobSchedule, s.placement.DiskSize(vms))
	target, err := s.placement.SelectForWorkload(ctx, required)
	if err != nil {
		return nil, s.fail(ctx, workload, err)
	}
	workload.Metadata[domain.MetaBackupMediaTarget] = target.Name()
	workload.Metadata[domain.MetaApproxBackupSize] = fmt.Sprintf("%d", required)
	workload.Status = domain.WorkloadStatusAvailable

	if err := s.writeVault(ctx, target, workload, vms); err != nil {
		return nil, s.fail(ctx, workload, err)
	}
	if err := s.workloads.Update(ctx, workload); err != nil {
		return nil, fmt.Errorf("failed to update workload: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"workload": workload.ID,
		"share":    target.Name(),
		"vms":      len(vms),
	}).Info("Created workload")
	if s.observer != nil {
		s.observer.WorkloadChanged(workload)
	}
	return workload, nil
}

func (s *WorkloadService) fail(ctx context.Context, workload *domain.Workload, cause error) error {
	workload.Fail(cause.Error())
	if err := s.workloads.Update(ctx, workload); err != nil {
		s.log.WithError(err).WithField("workload", workload.ID).Error("Failed to record workload failure")
	}
	return cause
}

func (s *WorkloadService) writeVault(ctx context.Context, target vault.Target, workload *domain.Workload, vms []*domain.WorkloadVM) error {
	if err := vault.PutJSON(ctx, target, vault.WorkloadDBKey(workload.ID), workload); err != nil {
		return fmt.Errorf("failed to write workload_db: %w", err)
	}
	if err := vault.PutJSON(ctx, target, vault.WorkloadVMsDBKey(workload.ID), vms); err != nil {
		return fmt.Errorf("failed to write workload_vms_db: %w", err)
	}
	return nil
}

// ModifyWorkload updates an available workload, holding its lock while the
// VM membership is diffed and the vault copies rewritten.
func (s *WorkloadService) ModifyWorkload(ctx context.Context, id string, req ModifyWorkloadRequest) (*domain.Workload, error) {
	workload, err := s.workloads.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.JobSchedule != nil {
		if err := req.JobSchedule.Validate(); err != nil {
			return nil, invalidField("jobschedule", "%v", err)
		}
	}

	if err := lockWorkload(ctx, s.workloads, workload); err != nil {
		return nil, err
	}
	defer unlockWorkload(ctx, s.workloads, s.log, id)

	if req.Name != nil {
		workload.Name = *req.Name
	}
	if req.Description != nil {
		workload.Description = *req.Description
	}
	if req.JobSchedule != nil {
		workload.JobSchedule = *req.JobSchedule
	}

	vms, err := s.workloads.ListVMs(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.VMs != nil {
		if vms, err = s.syncVMs(ctx, workload.ID, vms, req.VMs); err != nil {
			return nil, err
		}
	}

	target, err := s.placement.Confirm(ctx, workload.BackupTarget())
	if err != nil {
		return nil, err
	}
	workload.Status = domain.WorkloadStatusAvailable
	if err := s.writeVault(ctx, target, workload, vms); err != nil {
		return nil, err
	}
	// stays locked in the row until the deferred unlock
	workload.Status = domain.WorkloadStatusLocked
	if err := s.workloads.Update(ctx, workload); err != nil {
		return nil, fmt.Errorf("failed to update workload: %w", err)
	}
	workload.Status = domain.WorkloadStatusAvailable

	if s.observer != nil {
		s.observer.WorkloadChanged(workload)
	}
	return workload, nil
}

// syncVMs makes the workload's membership match wanted and returns the new set.
func (s *WorkloadService) syncVMs(ctx context.Context, workloadID string, current []*domain.WorkloadVM, wanted []WorkloadVMSpec) ([]*domain.WorkloadVM, error) {
	if len(wanted) == 0 {
		return nil, invalidField("instances", "at least one VM is required")
	}

	existing := make(map[string]*domain.WorkloadVM, len(current))
	for _, vm := range current {
		existing[vm.VMID] = vm
	}

	result := make([]*domain.WorkloadVM, 0, len(wanted))
	keep := make(map[string]bool, len(wanted))
	for _, spec := range wanted {
		vm, ok := existing[spec.VMID]
		if !ok {
			vm = domain.NewWorkloadVM(workloadID, spec.VMID, spec.VMName)
		}
		if spec.VMName != "" {
			vm.VMName = spec.VMName
		}
		for k, v := range spec.Metadata {
			vm.Metadata[k] = v
		}
		if err := s.workloads.UpsertVM(ctx, vm); err != nil {
			return nil, err
		}
		keep[spec.VMID] = true
		result = append(result, vm)
	}

	for _, vm := range current {
		if keep[vm.VMID] {
			continue
		}
		if err := s.workloads.DeleteVM(ctx, vm.ID); err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"workload": workloadID, "vm": vm.VMID}).Info("Removed VM from workload")
	}
	return result, nil
}

// DeleteWorkload removes a workload that no longer has snapshots and purges its vault data.
func (s *WorkloadService) DeleteWorkload(ctx context.Context, id string) error {
	workload, err := s.workloads.FindByID(ctx, id)
	if err != nil {
		return err
	}
	switch workload.Status {
	case domain.WorkloadStatusAvailable, domain.WorkloadStatusError:
	default:
		return domain.NewInvalidState("workload", id, string(workload.Status),
			string(domain.WorkloadStatusAvailable), string(domain.WorkloadStatusError))
	}

	snapshots, err := s.snapshots.FindByWorkload(ctx, id)
	if err != nil {
		return err
	}
	if len(snapshots) > 0 {
		return &domain.Error{
			Kind:    domain.ErrInvalidState,
			Entity:  "workload",
			ID:      id,
			Message: fmt.Sprintf("%d snapshot(s) remain", len(snapshots)),
		}
	}

	if name := workload.BackupTarget(); name != "" {
		target, err := s.placement.Confirm(ctx, name)
		if err != nil {
			return err
		}
		if err := target.Delete(ctx, vault.WorkloadPrefix(id)); err != nil {
			return fmt.Errorf("failed to delete vault data of workload %s: %w", id, err)
		}
	}

	workload.Status = domain.WorkloadStatusDeleted
	if err := s.workloads.Update(ctx, workload); err != nil {
		return fmt.Errorf("failed to update workload: %w", err)
	}
	if s.observer != nil {
		s.observer.WorkloadRemoved(id)
	}
	s.log.WithField("workload", id).Info("Deleted workload")
	return nil
}

func (s *WorkloadService) GetWorkload(ctx context.Context, id string) (*domain.Workload, error) {
	return s.workloads.FindByID(ctx, id)
}

func (s *WorkloadService) ListWorkloads(ctx context.Context, filter repository.WorkloadFilter) ([]*domain.Workload, error) {
	return s.workloads.List(ctx, filter)
}

func (s *WorkloadService) CountWorkloads(ctx context.Context, filter repository.WorkloadFilter) (int, error) {
	return s.workloads.Count(ctx, filter)
}

func (s *WorkloadService) ListVMs(ctx context.Context, id string) ([]*domain.WorkloadVM, error) {
	if _, err := s.workloads.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.workloads.ListVMs(ctx, id)
}

// ScheduledWorkloads returns the available workloads with an enabled schedule.
func (s *WorkloadService) ScheduledWorkloads(ctx context.Context) ([]*domain.Workload, error) {
	workloads, err := s.workloads.FindByStatus(ctx, domain.WorkloadStatusAvailable)
	if err != nil {
		return nil, err
	}
	var scheduled []*domain.Workload
	for _, w := range workloads {
		if w.JobSchedule.Enabled {
			scheduled = append(scheduled, w)
		}
	}
	return scheduled, nil
}
