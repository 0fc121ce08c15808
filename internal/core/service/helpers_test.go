package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
	"github.com/martijn/vmvault/internal/infrastructure/sqlite"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
)

const testDiskSize = 1000

type shareSpec struct {
	name     string
	capacity int64
}

type testEnv struct {
	fs        afero.Fs
	db        *sqlite.DB
	clock     *testclock.Clock
	log       *logrus.Logger
	metrics   *metrics.ServerMetrics
	registry  *vault.Registry
	compute   *fakeCompute
	workloads repository.WorkloadRepository
	snapshots repository.SnapshotRepository
	resources repository.SnapshotResourceRepository
	settings  repository.SettingRepository
	processes *ProcessService
	placement *PlacementService
	retention *RetentionService
	snapshot  *SnapshotService
	workload  *WorkloadService
	setting   *SettingService
}

func newTestEnv(t *testing.T, shares ...shareSpec) *testEnv {
	t.Helper()
	if len(shares) == 0 {
		shares = []shareSpec{{name: "share-a", capacity: 1 << 30}}
	}

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	fs := afero.NewMemMapFs()
	targets := make([]vault.Target, 0, len(shares))
	for _, s := range shares {
		root := "/vault/" + s.name
		require.NoError(t, fs.MkdirAll(root, 0o755))
		targets = append(targets, vault.NewLocalTarget(s.name, root, s.capacity, fs))
	}

	e := &testEnv{
		fs:        fs,
		db:        db,
		clock:     testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		log:       log,
		metrics:   metrics.NewServerMetrics(),
		registry:  vault.NewRegistry(targets, log),
		compute:   newFakeCompute(fs),
		workloads: sqlite.NewWorkloadRepository(db),
		snapshots: sqlite.NewSnapshotRepository(db),
		resources: sqlite.NewSnapshotResourceRepository(db),
		settings:  sqlite.NewSettingRepository(db),
	}
	e.processes = NewProcessService(sqlite.NewProcessRepository(db), log)
	e.placement = NewPlacementService(e.registry, 50, 10, testDiskSize, e.metrics, log)
	e.retention = NewRetentionService(e.workloads, e.snapshots, e.resources, e.registry, e.processes, e.metrics, e.clock, log)
	e.snapshot = NewSnapshotService(e.workloads, e.snapshots, e.resources, e.placement, e.retention,
		e.processes, e.compute, fs, 1, e.metrics, e.clock, log)
	e.workload = NewWorkloadService(e.workloads, e.snapshots, e.placement, log)
	e.setting = NewSettingService(e.settings, e.registry, e.placement, "cloud-1", log)
	return e
}

func (e *testEnv) target(t *testing.T, name string) vault.Target {
	t.Helper()
	target, err := e.registry.Get(name)
	require.NoError(t, err)
	return target
}

func countSchedule(keep, fullInterval int) domain.JobSchedule {
	return domain.JobSchedule{
		Enabled:              true,
		Interval:             24,
		RetentionPolicyType:  domain.RetentionByCount,
		RetentionPolicyValue: keep,
		FullBackupInterval:   fullInterval,
	}
}

// createWorkload inserts an available workload placed on share-a with the given VMs.
func (e *testEnv) createWorkload(t *testing.T, schedule domain.JobSchedule, vmIDs ...string) *domain.Workload {
	t.Helper()
	ctx := context.Background()
	w := domain.NewWorkload("web", "user-1", "project-1", schedule)
	w.Status = domain.WorkloadStatusAvailable
	w.Metadata[domain.MetaBackupMediaTarget] = "share-a"
	require.NoError(t, e.workloads.Create(ctx, w))
	for _, id := range vmIDs {
		vm := domain.NewWorkloadVM(w.ID, id, "vm "+id)
		vm.Metadata[domain.MetaDiskSize] = fmt.Sprint(testDiskSize)
		require.NoError(t, e.workloads.UpsertVM(ctx, vm))
	}
	return w
}

// addSnapshot inserts a finished single-disk snapshot whose disk link is
// backed by backing, and stores a payload for it on share-a.
func (e *testEnv) addSnapshot(t *testing.T, w *domain.Workload, age time.Duration, backing *domain.DiskResourceSnapshot) (*domain.Snapshot, *domain.DiskResourceSnapshot) {
	t.Helper()
	ctx := context.Background()

	snapshotType := domain.SnapshotTypeFull
	var backingID *string
	if backing != nil {
		snapshotType = domain.SnapshotTypeIncremental
		backingID = &backing.ID
	}

	snap := domain.NewSnapshot(w, snapshotType, "snap")
	snap.Status = domain.SnapshotStatusAvailable
	snap.CreatedAt = e.clock.Now().Add(-age)
	require.NoError(t, e.snapshots.Create(ctx, snap))

	res := domain.NewSnapshotResource(snap.ID, "vm-1", domain.ResourceTypeDisk, "root")
	require.NoError(t, e.resources.Upsert(ctx, res))
	link := domain.NewDiskResourceSnapshot(res, "disk-1", backingID)
	link.Status = string(domain.SnapshotStatusAvailable)
	link.VaultKey = vault.DiskPayloadKey(w.ID, res, link.ID)
	require.NoError(t, e.resources.UpsertDiskSnapshot(ctx, link))
	require.NoError(t, e.target(t, "share-a").Put(ctx, link.VaultKey, strings.NewReader("payload")))
	return snap, link
}

// fakeCompute stages the disks of a VM (disk-1 unless disks says otherwise)
// plus a nic, a security group and a flavor.
type fakeCompute struct {
	fs afero.Fs

	mu       sync.Mutex
	calls    map[string]int
	fulls    []bool
	paused   map[string]bool
	fail     error
	hold     chan struct{}
	started  chan string
	disks    map[string][]string
	unstaged map[string]bool
}

func (c *fakeCompute) setDisks(vmID string, diskIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disks == nil {
		c.disks = make(map[string][]string)
	}
	c.disks[vmID] = diskIDs
}

// leaveUnstaged reports diskID as captured without writing its staged file.
func (c *fakeCompute) leaveUnstaged(diskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unstaged == nil {
		c.unstaged = make(map[string]bool)
	}
	c.unstaged[diskID] = true
}

func newFakeCompute(fs afero.Fs) *fakeCompute {
	return &fakeCompute{
		fs:     fs,
		calls:  make(map[string]int),
		paused: make(map[string]bool),
	}
}

func (c *fakeCompute) Pause(ctx context.Context, vmID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused[vmID] = true
	return nil
}

func (c *fakeCompute) Resume(ctx context.Context, vmID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused[vmID] {
		return errors.New("vm is not paused")
	}
	c.paused[vmID] = false
	return nil
}

func (c *fakeCompute) Snapshot(ctx context.Context, vmID string, full bool) (*VMCapture, error) {
	c.mu.Lock()
	hold, started, fail := c.hold, c.started, c.fail
	c.mu.Unlock()

	if started != nil {
		started <- vmID
	}
	if hold != nil {
		<-hold
	}
	if fail != nil {
		return nil, fail
	}

	c.mu.Lock()
	c.calls[vmID]++
	n := c.calls[vmID]
	c.fulls = append(c.fulls, full)
	diskIDs := c.disks[vmID]
	unstaged := make(map[string]bool, len(c.unstaged))
	for id := range c.unstaged {
		unstaged[id] = true
	}
	c.mu.Unlock()
	if len(diskIDs) == 0 {
		diskIDs = []string{"disk-1"}
	}

	size := 64
	if full {
		size = 512
	}
	var disks []DiskCapture
	for i, diskID := range diskIDs {
		path := fmt.Sprintf("/staging/%s/%s.%d", vmID, diskID, n)
		if !unstaged[diskID] {
			if err := afero.WriteFile(c.fs, path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
				return nil, err
			}
		}
		name := "root"
		if i > 0 {
			name = fmt.Sprintf("data%d", i)
		}
		disks = append(disks, DiskCapture{
			DiskID: diskID,
			Name:   name,
			Label:  name + " disk",
			Size:   testDiskSize,
			Path:   path,
		})
	}

	return &VMCapture{
		VMID:   vmID,
		VMName: "vm " + vmID,
		Disks:  disks,
		Resources: []ResourceCapture{
			{Type: domain.ResourceTypeNIC, Name: "eth0", Data: domain.Metadata{"mac": "fa:16:3e:00:00:01"}},
			{Type: domain.ResourceTypeSecurityGroup, Name: "default", Data: domain.Metadata{"rules": "22/tcp"}},
			{Type: domain.ResourceTypeFlavor, Name: "m1.small", Metadata: domain.Metadata{"vcpus": "1"}},
		},
	}, nil
}

type fakeObserver struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (o *fakeObserver) WorkloadChanged(w *domain.Workload) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = append(o.changed, w.ID)
}

func (o *fakeObserver) WorkloadRemoved(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, id)
}
