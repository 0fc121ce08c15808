package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
)

const day = 24 * time.Hour

type RetentionService struct {
	workloads repository.WorkloadRepository
	snapshots repository.SnapshotRepository
	resources repository.SnapshotResourceRepository
	shares    ShareSource
	processes *ProcessService
	metrics   *metrics.ServerMetrics
	clock     clock.Clock
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

func NewRetentionService(
	workloads repository.WorkloadRepository,
	snapshots repository.SnapshotRepository,
	resources repository.SnapshotResourceRepository,
	shares ShareSource,
	processes *ProcessService,
	m *metrics.ServerMetrics,
	clk clock.Clock,
	log logrus.FieldLogger,
) *RetentionService {
	return &RetentionService{
		workloads: workloads,
		snapshots: snapshots,
		resources: resources,
		shares:    shares,
		processes: processes,
		metrics:   m,
		clock:     clk,
		log:       log,
	}
}

// DecideSnapshotType picks full or incremental for the next snapshot of workload.
func (s *RetentionService) DecideSnapshotType(ctx context.Context, workload *domain.Workload) (domain.SnapshotType, error) {
	last, err := s.snapshots.FindLatestByType(ctx, workload.ID, domain.SnapshotTypeFull)
	if err != nil {
		return "", fmt.Errorf("failed to find last full snapshot: %w", err)
	}
	// Nothing to take a delta against
	if last == nil {
		return domain.SnapshotTypeFull, nil
	}

	interval := workload.JobSchedule.FullBackupInterval
	if interval == 0 {
		return domain.SnapshotTypeFull, nil
	}
	if interval > 0 {
		ageDays := int(s.clock.Now().Sub(last.CreatedAt) / day)
		if ageDays >= interval {
			return domain.SnapshotTypeFull, nil
		}
	}
	return domain.SnapshotTypeIncremental, nil
}

// ExpiryCandidates returns the finished snapshots that fall outside the
// retention policy, oldest first. snapshots must be ordered oldest first.
func ExpiryCandidates(schedule domain.JobSchedule, snapshots []*domain.Snapshot, now time.Time) []*domain.Snapshot {
	var finished []*domain.Snapshot
	for _, snap := range snapshots {
		if snap.IsDeletable() {
			finished = append(finished, snap)
		}
	}

	switch schedule.RetentionPolicyType {
	case domain.RetentionByTime:
		cutoff := now.Add(-schedule.RetentionWindow())
		var expired []*domain.Snapshot
		for _, snap := range finished {
			if snap.CreatedAt.Before(cutoff) {
				expired = append(expired, snap)
			}
		}
		return expired
	default:
		keep := schedule.RetentionPolicyValue
		if len(finished) <= keep {
			return nil
		}
		return finished[:len(finished)-keep]
	}
}

// deletionPlan splits candidates into snapshots that may be purged and
// snapshots still backing a surviving disk chain, keyed to the survivors
// that reference them.
type deletionPlan struct {
	deletable []string
	deferred  map[string][]string

	disks []*domain.DiskResourceSnapshot
	byID  map[string]*domain.DiskResourceSnapshot
}

// backingSnapshots lists the snapshots whose links the disk chains of
// snapshotID resolve through.
func (p *deletionPlan) backingSnapshots(snapshotID string) []string {
	seen := make(map[string]bool)
	var owners []string
	for _, d := range p.disks {
		if d.SnapshotID != snapshotID {
			continue
		}
		visited := map[string]bool{d.ID: true}
		for backing := d.BackingID; backing != nil; {
			link, ok := p.byID[*backing]
			if !ok || visited[link.ID] {
				break
			}
			visited[link.ID] = true
			if link.SnapshotID != snapshotID && !seen[link.SnapshotID] {
				seen[link.SnapshotID] = true
				owners = append(owners, link.SnapshotID)
			}
			backing = link.BackingID
		}
	}
	return owners
}

func (p *deletionPlan) deferFor(snapshotID, survivor string) {
	for _, id := range p.deferred[snapshotID] {
		if id == survivor {
			return
		}
	}
	refs := append(p.deferred[snapshotID], survivor)
	sort.Strings(refs)
	p.deferred[snapshotID] = refs
}

func (s *RetentionService) planDeletion(ctx context.Context, workloadID string, candidates []*domain.Snapshot) (*deletionPlan, error) {
	disks, err := s.resources.ListDiskSnapshotsByWorkload(ctx, workloadID)
	if err != nil {
		return nil, err
	}

	isCandidate := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		isCandidate[c.ID] = true
	}
	byID := make(map[string]*domain.DiskResourceSnapshot, len(disks))
	for _, d := range disks {
		byID[d.ID] = d
	}

	// Every link reachable from a surviving disk snapshot, with the
	// survivors that reach it
	referencedBy := make(map[string]map[string]bool)
	for _, d := range disks {
		if isCandidate[d.SnapshotID] {
			continue
		}
		visited := map[string]bool{d.ID: true}
		for backing := d.BackingID; backing != nil; {
			link, ok := byID[*backing]
			if !ok || visited[link.ID] {
				s.log.WithFields(logrus.Fields{
					"workload":      workloadID,
					"disk_snapshot": d.ID,
					"backing":       *backing,
				}).Warn("Backing chain is broken")
				break
			}
			visited[link.ID] = true
			if referencedBy[link.ID] == nil {
				referencedBy[link.ID] = make(map[string]bool)
			}
			referencedBy[link.ID][d.SnapshotID] = true
			backing = link.BackingID
		}
	}

	plan := &deletionPlan{deferred: make(map[string][]string), disks: disks, byID: byID}
	for _, c := range candidates {
		refs := make(map[string]bool)
		for _, d := range disks {
			if d.SnapshotID != c.ID {
				continue
			}
			for snapID := range referencedBy[d.ID] {
				refs[snapID] = true
			}
		}
		if len(refs) == 0 {
			plan.deletable = append(plan.deletable, c.ID)
			continue
		}
		ids := make([]string, 0, len(refs))
		for id := range refs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		plan.deferred[c.ID] = ids
	}
	return plan, nil
}

func (s *RetentionService) purge(ctx context.Context, workload *domain.Workload, snapshotID string) error {
	target, err := s.shares.Get(workload.BackupTarget())
	if err != nil {
		return fmt.Errorf("failed to resolve share of workload %s: %w", workload.ID, err)
	}
	if err := target.Delete(ctx, vault.SnapshotPrefix(workload.ID, snapshotID)); err != nil {
		return fmt.Errorf("failed to delete vault data of snapshot %s: %w", snapshotID, err)
	}
	if err := s.snapshots.Purge(ctx, snapshotID); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"workload": workload.ID, "snapshot": snapshotID}).Info("Purged snapshot")
	return nil
}

// DeleteSnapshot purges a single finished snapshot unless a surviving chain
// depends on it. The workload must be available.
func (s *RetentionService) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	snap, err := s.snapshots.FindByID(ctx, snapshotID)
	if err != nil {
		return err
	}
	if !snap.IsDeletable() {
		return domain.NewInvalidState("snapshot", snap.ID, string(snap.Status),
			string(domain.SnapshotStatusAvailable), string(domain.SnapshotStatusError), string(domain.SnapshotStatusImportError))
	}
	workload, err := s.workloads.FindByID(ctx, snap.WorkloadID)
	if err != nil {
		return err
	}
	// A snapshot in flight takes its delta against the newest link
	if err := lockWorkload(ctx, s.workloads, workload); err != nil {
		return err
	}
	defer unlockWorkload(ctx, s.workloads, s.log, workload.ID)

	plan, err := s.planDeletion(ctx, workload.ID, []*domain.Snapshot{snap})
	if err != nil {
		return err
	}
	if refs, ok := plan.deferred[snap.ID]; ok {
		return domain.NewRetentionViolation(snap.ID, refs)
	}
	return s.purge(ctx, workload, snap.ID)
}

type RetentionResult struct {
	WorkloadID string   `json:"workload_id"`
	Deleted    []string `json:"deleted"`
	Deferred   []string `json:"deferred"`
	Errors     []string `json:"errors,omitempty"`
	Skipped    bool     `json:"skipped,omitempty"`
}

// EnforceRetention purges the expired snapshots of a workload that no live
// chain references. It holds the workload lock for the pass and refuses a
// workload that is not available.
func (s *RetentionService) EnforceRetention(ctx context.Context, workloadID string) (*RetentionResult, error) {
	workload, err := s.workloads.FindByID(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	if err := lockWorkload(ctx, s.workloads, workload); err != nil {
		return nil, err
	}
	defer unlockWorkload(ctx, s.workloads, s.log, workloadID)
	return s.enforce(ctx, workload)
}

// EnforceRetentionLocked is EnforceRetention for a caller that already holds
// the workload lock.
func (s *RetentionService) EnforceRetentionLocked(ctx context.Context, workloadID string) (*RetentionResult, error) {
	workload, err := s.workloads.FindByID(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	if workload.Status != domain.WorkloadStatusLocked {
		return nil, domain.NewInvalidState("workload", workloadID, string(workload.Status), string(domain.WorkloadStatusLocked))
	}
	return s.enforce(ctx, workload)
}

func (s *RetentionService) enforce(ctx context.Context, workload *domain.Workload) (*RetentionResult, error) {
	workloadID := workload.ID
	snapshots, err := s.snapshots.FindByWorkload(ctx, workloadID)
	if err != nil {
		return nil, err
	}

	result := &RetentionResult{WorkloadID: workloadID}
	candidates := ExpiryCandidates(workload.JobSchedule, snapshots, s.clock.Now())
	if len(candidates) == 0 {
		return result, nil
	}

	plan, err := s.planDeletion(ctx, workloadID, candidates)
	if err != nil {
		return nil, err
	}

	// Newest first, so a chain that is half purged never outlives its base
	for i := len(plan.deletable) - 1; i >= 0; i-- {
		id := plan.deletable[i]
		if _, blocked := plan.deferred[id]; blocked {
			continue
		}
		if err := s.purge(ctx, workload, id); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"workload": workloadID, "snapshot": id}).Error("Failed to purge expired snapshot")
			result.Errors = append(result.Errors, err.Error())
			// id survives, and with it every link its chains resolve through
			for _, base := range plan.backingSnapshots(id) {
				plan.deferFor(base, id)
			}
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}
	for _, c := range candidates {
		if refs, ok := plan.deferred[c.ID]; ok {
			s.log.WithFields(logrus.Fields{
				"workload":      workloadID,
				"snapshot":      c.ID,
				"referenced_by": strings.Join(refs, ","),
			}).Info("Deferring deletion of expired snapshot")
			result.Deferred = append(result.Deferred, c.ID)
		}
	}

	s.metrics.RegisterRetention(workloadID, len(result.Deleted), len(result.Deferred))
	return result, nil
}

// Sweep enforces retention on the given workloads, or on every available
// workload when none are given. Failures are isolated per workload and a
// workload that is locked when its turn comes is skipped.
func (s *RetentionService) Sweep(ctx context.Context, workloadIDs []string) ([]*RetentionResult, error) {
	if len(workloadIDs) == 0 {
		workloads, err := s.workloads.FindByStatus(ctx, domain.WorkloadStatusAvailable)
		if err != nil {
			return nil, err
		}
		for _, w := range workloads {
			workloadIDs = append(workloadIDs, w.ID)
		}
	}

	results := make([]*RetentionResult, 0, len(workloadIDs))
	for _, id := range workloadIDs {
		result, err := s.EnforceRetention(ctx, id)
		if errors.Is(err, domain.ErrInvalidState) {
			s.log.WithError(err).WithField("workload", id).Info("Skipping retention of busy workload")
			result, err = &RetentionResult{WorkloadID: id, Skipped: true}, nil
		}
		if err != nil {
			s.log.WithError(err).WithField("workload", id).Error("Retention failed")
			result = &RetentionResult{WorkloadID: id, Errors: []string{err.Error()}}
		}
		results = append(results, result)
	}
	return results, nil
}

// StartSweep runs Sweep in the background, tracked by a retention process.
func (s *RetentionService) StartSweep(ctx context.Context, workloadID string) (*domain.Process, error) {
	args := map[string]interface{}{}
	var ids []string
	if workloadID != "" {
		if _, err := s.workloads.FindByID(ctx, workloadID); err != nil {
			return nil, err
		}
		args["id"] = workloadID
		ids = []string{workloadID}
	}

	process, err := s.processes.CreateProcess(ctx, "retention", domain.ProcessTypeRetention, args)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg := context.Background()
		if err := s.processes.MarkStarted(bg, process); err != nil {
			s.log.WithError(err).Error("Failed to start retention process")
		}

		results, err := s.Sweep(bg, ids)
		var deleted, deferred int
		var errorLog []string
		for _, r := range results {
			deleted += len(r.Deleted)
			deferred += len(r.Deferred)
			for _, e := range r.Errors {
				errorLog = append(errorLog, fmt.Sprintf("workload %s: %s", r.WorkloadID, e))
			}
		}
		if err == nil && len(errorLog) > 0 {
			err = fmt.Errorf("%s", strings.Join(errorLog, "\n"))
		}
		s.processes.Finish(bg, process, fmt.Sprintf("deleted %d, deferred %d snapshot(s)", deleted, deferred), err)
	}()

	return process, nil
}

// Wait blocks until background sweeps have finished.
func (s *RetentionService) Wait() {
	s.wg.Wait()
}

type ChainLink struct {
	DiskSnapshotID string `json:"disk_snapshot_id"`
	SnapshotID     string `json:"snapshot_id"`
	DiskID         string `json:"disk_id"`
	Depth          int    `json:"depth"`
	BaseID         string `json:"base_id"`
}

type ChainReport struct {
	WorkloadID string       `json:"workload_id"`
	Links      []*ChainLink `json:"links"`
	Problems   []string     `json:"problems,omitempty"`
}

// ValidateChain walks every disk chain of a workload. Each must end at a full
// copy within as many steps as the workload has snapshots. The first broken
// chain is returned as a ChainIntegrityError alongside the full report.
func (s *RetentionService) ValidateChain(ctx context.Context, workloadID string) (*ChainReport, error) {
	if _, err := s.workloads.FindByID(ctx, workloadID); err != nil {
		return nil, err
	}
	snapshots, err := s.snapshots.FindByWorkload(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	disks, err := s.resources.ListDiskSnapshotsByWorkload(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.DiskResourceSnapshot, len(disks))
	for _, d := range disks {
		byID[d.ID] = d
	}

	report := &ChainReport{WorkloadID: workloadID}
	var firstErr error
	for _, d := range disks {
		link, err := walkChain(d, byID, len(snapshots))
		if err != nil {
			report.Problems = append(report.Problems, err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.Links = append(report.Links, link)
	}
	return report, firstErr
}

func walkChain(d *domain.DiskResourceSnapshot, byID map[string]*domain.DiskResourceSnapshot, maxSteps int) (*ChainLink, error) {
	current := d
	for depth := 0; ; depth++ {
		if current.BackingID == nil {
			return &ChainLink{
				DiskSnapshotID: d.ID,
				SnapshotID:     d.SnapshotID,
				DiskID:         d.DiskID,
				Depth:          depth,
				BaseID:         current.ID,
			}, nil
		}
		if depth >= maxSteps {
			return nil, domain.NewChainIntegrity(d.ID, "backing chain does not terminate at a full copy")
		}
		next, ok := byID[*current.BackingID]
		if !ok {
			return nil, domain.NewChainIntegrity(d.ID, fmt.Sprintf("backing %s of %s does not exist", *current.BackingID, current.ID))
		}
		current = next
	}
}
