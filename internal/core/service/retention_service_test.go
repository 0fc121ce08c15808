package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/vault"
)

func TestDecideSnapshotType(t *testing.T) {
	tests := []struct {
		name         string
		fullInterval int
		lastFullAge  time.Duration // 0 means no prior full
		want         domain.SnapshotType
	}{
		{"no prior snapshot", 10, 0, domain.SnapshotTypeFull},
		{"last full 9 days old", 10, 9 * day, domain.SnapshotTypeIncremental},
		{"last full 11 days old", 10, 11 * day, domain.SnapshotTypeFull},
		{"last full exactly at interval", 10, 10 * day, domain.SnapshotTypeFull},
		{"every snapshot full", 0, time.Hour, domain.SnapshotTypeFull},
		{"full only keeps incrementing", domain.FullBackupOnly, 400 * day, domain.SnapshotTypeIncremental},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			w := e.createWorkload(t, countSchedule(5, tt.fullInterval), "vm-1")
			if tt.lastFullAge > 0 {
				e.addSnapshot(t, w, tt.lastFullAge, nil)
			}

			got, err := e.retention.DecideSnapshotType(context.Background(), w)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideSnapshotTypeIgnoresFailedFulls(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(5, 10), "vm-1")
	snap, _ := e.addSnapshot(t, w, day, nil)
	snap.Fail("disk copy failed")
	require.NoError(t, e.snapshots.Update(ctx, snap))

	got, err := e.retention.DecideSnapshotType(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotTypeFull, got)
}

func TestExpiryCandidates(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mk := func(age time.Duration, status domain.SnapshotStatus) *domain.Snapshot {
		return &domain.Snapshot{ID: age.String(), Status: status, CreatedAt: now.Add(-age)}
	}
	snapshots := []*domain.Snapshot{
		mk(5*day, domain.SnapshotStatusAvailable),
		mk(4*day, domain.SnapshotStatusError),
		mk(3*day, domain.SnapshotStatusAvailable),
		mk(2*day, domain.SnapshotStatusExecuting),
		mk(1*day, domain.SnapshotStatusAvailable),
	}

	byCount := ExpiryCandidates(countSchedule(2, 0), snapshots, now)
	require.Len(t, byCount, 2)
	assert.Equal(t, snapshots[0].ID, byCount[0].ID)
	assert.Equal(t, snapshots[1].ID, byCount[1].ID)

	byTime := ExpiryCandidates(domain.JobSchedule{
		RetentionPolicyType:  domain.RetentionByTime,
		RetentionPolicyValue: 3,
	}, snapshots, now)
	require.Len(t, byTime, 2)
	assert.Equal(t, snapshots[0].ID, byTime[0].ID)

	assert.Empty(t, ExpiryCandidates(countSchedule(10, 0), snapshots, now))
}

func TestEnforceRetentionDeletesUnreferencedChains(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(2, 2), "vm-1")

	s1, l1 := e.addSnapshot(t, w, 4*day, nil)
	s2, _ := e.addSnapshot(t, w, 3*day, l1)
	s3, l3 := e.addSnapshot(t, w, 2*day, nil)
	s4, _ := e.addSnapshot(t, w, 1*day, l3)

	result, err := e.retention.EnforceRetention(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{s2.ID, s1.ID}, result.Deleted)
	assert.Empty(t, result.Deferred)

	remaining, err := e.snapshots.FindByWorkload(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, s3.ID, remaining[0].ID)
	assert.Equal(t, s4.ID, remaining[1].ID)

	exists, err := vault.Exists(ctx, e.target(t, "share-a"), vault.SnapshotPrefix(w.ID, s1.ID))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = e.retention.ValidateChain(ctx, w.ID)
	assert.NoError(t, err)
}

func TestEnforceRetentionDefersReferencedSnapshots(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(1, 100), "vm-1")

	s1, l1 := e.addSnapshot(t, w, 3*day, nil)
	s2, l2 := e.addSnapshot(t, w, 2*day, l1)
	e.addSnapshot(t, w, 1*day, l2)

	result, err := e.retention.EnforceRetention(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, result.Deferred)

	remaining, err := e.snapshots.FindByWorkload(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 3)

	report, err := e.retention.ValidateChain(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, report.Links, 3)
}

func TestEnforceRetentionKeepsInFlightChains(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(1, 100), "vm-1")

	s1, l1 := e.addSnapshot(t, w, 2*day, nil)
	e.addSnapshot(t, w, 1*day, nil)
	running, _ := e.addSnapshot(t, w, time.Hour, l1)
	running.Status = domain.SnapshotStatusExecuting
	require.NoError(t, e.snapshots.Update(ctx, running))

	result, err := e.retention.EnforceRetention(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.Equal(t, []string{s1.ID}, result.Deferred)
}

// failingDeletes hands out targets whose Delete fails below prefix.
type failingDeletes struct {
	ShareSource
	prefix string
}

func (f failingDeletes) Get(name string) (vault.Target, error) {
	target, err := f.ShareSource.Get(name)
	if err != nil {
		return nil, err
	}
	return failingDeleteTarget{Target: target, prefix: f.prefix}, nil
}

type failingDeleteTarget struct {
	vault.Target
	prefix string
}

func (t failingDeleteTarget) Delete(ctx context.Context, key string) error {
	if strings.HasPrefix(key, t.prefix) {
		return domain.NewTransportError("delete", key, errors.New("transport down"))
	}
	return t.Target.Delete(ctx, key)
}

func TestEnforceRetentionKeepsBaseOfFailedPurge(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(1, 100), "vm-1")

	s1, l1 := e.addSnapshot(t, w, 3*day, nil)
	s2, _ := e.addSnapshot(t, w, 2*day, l1)
	e.addSnapshot(t, w, 1*day, nil)

	shares := failingDeletes{ShareSource: e.registry, prefix: vault.SnapshotPrefix(w.ID, s2.ID)}
	retention := NewRetentionService(e.workloads, e.snapshots, e.resources, shares, e.processes, e.metrics, e.clock, e.log)

	result, err := retention.EnforceRetention(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)
	assert.Equal(t, []string{s1.ID}, result.Deferred)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "transport down")

	_, err = e.snapshots.FindByID(ctx, s1.ID)
	require.NoError(t, err)
	_, err = e.retention.ValidateChain(ctx, w.ID)
	require.NoError(t, err)

	// once the share recovers both go
	result, err = e.retention.EnforceRetention(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{s2.ID, s1.ID}, result.Deleted)
}

func TestRetentionRefusesLockedWorkload(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(1, 100), "vm-1")
	s1, _ := e.addSnapshot(t, w, 2*day, nil)
	e.addSnapshot(t, w, 1*day, nil)

	ok, err := e.workloads.CompareAndSetStatus(ctx, w.ID, domain.WorkloadStatusAvailable, domain.WorkloadStatusLocked)
	require.NoError(t, err)
	require.True(t, ok)

	err = e.retention.DeleteSnapshot(ctx, s1.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.retention.EnforceRetention(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	results, err := e.retention.Sweep(ctx, []string{w.ID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Empty(t, results[0].Deleted)
	assert.Empty(t, results[0].Errors)

	remaining, err := e.snapshots.FindByWorkload(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	locked, err := e.workloads.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkloadStatusLocked, locked.Status)
}

func TestEnforceRetentionReleasesLock(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(1, 100), "vm-1")
	e.addSnapshot(t, w, 2*day, nil)
	e.addSnapshot(t, w, 1*day, nil)

	result, err := e.retention.EnforceRetention(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, result.Deleted, 1)

	workload, err := e.workloads.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkloadStatusAvailable, workload.Status)
}

func TestDeleteSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(10, 100), "vm-1")

	s1, l1 := e.addSnapshot(t, w, 2*day, nil)
	s2, _ := e.addSnapshot(t, w, 1*day, l1)

	err := e.retention.DeleteSnapshot(ctx, s1.ID)
	require.ErrorIs(t, err, domain.ErrRetentionViolation)
	assert.Contains(t, err.Error(), s2.ID)

	require.NoError(t, e.retention.DeleteSnapshot(ctx, s2.ID))
	require.NoError(t, e.retention.DeleteSnapshot(ctx, s1.ID))

	_, err = e.snapshots.FindByID(ctx, s1.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteSnapshotRejectsRunningSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(10, 100), "vm-1")
	snap, _ := e.addSnapshot(t, w, day, nil)
	snap.Status = domain.SnapshotStatusExecuting
	require.NoError(t, e.snapshots.Update(ctx, snap))

	err := e.retention.DeleteSnapshot(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestValidateChainReportsDanglingBacking(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(10, 100), "vm-1")
	_, l1 := e.addSnapshot(t, w, 2*day, nil)
	_, l2 := e.addSnapshot(t, w, 1*day, l1)

	missing := "gone"
	l2.BackingID = &missing
	require.NoError(t, e.resources.UpsertDiskSnapshot(ctx, l2))

	report, err := e.retention.ValidateChain(ctx, w.ID)
	require.ErrorIs(t, err, domain.ErrChainIntegrity)
	assert.Len(t, report.Links, 1)
	assert.Len(t, report.Problems, 1)
}

func TestValidateChainReportsCycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(10, 100), "vm-1")
	_, l1 := e.addSnapshot(t, w, 2*day, nil)
	_, l2 := e.addSnapshot(t, w, 1*day, l1)

	l1.BackingID = &l2.ID
	require.NoError(t, e.resources.UpsertDiskSnapshot(ctx, l1))

	_, err := e.retention.ValidateChain(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrChainIntegrity)
}

func TestStartSweepRecordsProcess(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	w := e.createWorkload(t, countSchedule(1, 100), "vm-1")
	e.addSnapshot(t, w, 2*day, nil)
	e.addSnapshot(t, w, 1*day, nil)

	process, err := e.retention.StartSweep(ctx, "")
	require.NoError(t, err)
	e.retention.Wait()

	done, err := e.processes.GetProcessByCommandID(ctx, process.CommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusCompleted, done.Status)
	require.NotNil(t, done.Output)
	assert.Contains(t, *done.Output, "deleted 1")

	remaining, err := e.snapshots.FindByWorkload(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
