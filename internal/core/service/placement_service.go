package service

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
)

// ShareSource is the set of configured shares, queried live.
type ShareSource interface {
	Shares(ctx context.Context) []domain.BackupShare
	Get(name string) (vault.Target, error)
	// Locate returns the first share holding key.
	Locate(ctx context.Context, key string) (vault.Target, error)
}

type PlacementService struct {
	shares          ShareSource
	fullFactor      int64
	incrFactor      int64
	defaultDiskSize int64
	metrics         *metrics.ServerMetrics
	log             logrus.FieldLogger
}

func NewPlacementService(shares ShareSource, fullFactor, incrFactor, defaultDiskSize int64, m *metrics.ServerMetrics, log logrus.FieldLogger) *PlacementService {
	return &PlacementService{
		shares:          shares,
		fullFactor:      fullFactor,
		incrFactor:      incrFactor,
		defaultDiskSize: defaultDiskSize,
		metrics:         m,
		log:             log,
	}
}

// DiskSize sums the disk sizes recorded on the VMs, counting the default
// size for a VM that has none.
func (s *PlacementService) DiskSize(vms []*domain.WorkloadVM) int64 {
	var total int64
	for _, vm := range vms {
		size, ok := vm.Metadata.Int64(domain.MetaDiskSize)
		if !ok || size <= 0 {
			size = s.defaultDiskSize
		}
		total += size
	}
	return total
}

// SnapshotMix is the expected number of full and incremental snapshots
// held over a schedule's retention horizon.
func SnapshotMix(schedule domain.JobSchedule) (fulls, incrs int64) {
	total := int64(schedule.RetainedSnapshots())
	switch f := int64(schedule.FullBackupInterval); {
	case f == domain.FullBackupOnly:
		return 1, 0
	case f <= 0:
		return total, 0
	default:
		fulls = total / f
		return fulls, total - fulls
	}
}

// Estimate is the number of bytes a workload with diskSize bytes of VM disks
// is expected to occupy under schedule.
func (s *PlacementService) Estimate(schedule domain.JobSchedule, diskSize int64) int64 {
	fulls, incrs := SnapshotMix(schedule)
	return (fulls*diskSize*s.fullFactor + incrs*diskSize*s.incrFactor) / 100
}

// Capacities returns the live capacity of every share in declared order.
func (s *PlacementService) Capacities(ctx context.Context) []domain.BackupShare {
	shares := s.shares.Shares(ctx)
	for _, share := range shares {
		if share.Online {
			s.metrics.SetShareFreeBytes(share.Name, share.Capacity.Free())
		}
	}
	return shares
}

// SelectForWorkload returns the first share, in priority order, with at least required bytes free.
func (s *PlacementService) SelectForWorkload(ctx context.Context, required int64) (vault.Target, error) {
	shares := s.Capacities(ctx)
	for _, share := range shares {
		if !share.Online {
			continue
		}
		if share.Capacity.Free() >= required {
			s.log.WithFields(logrus.Fields{
				"share":    share.Name,
				"required": humanize.IBytes(uint64(required)),
				"free":     humanize.IBytes(uint64(share.Capacity.Free())),
			}).Info("Selected share for workload")
			return s.shares.Get(share.Name)
		}
	}
	return nil, domain.NewCapacityExhausted(required, len(shares))
}

// SelectForGlobalSettings returns the share with the most free space.
func (s *PlacementService) SelectForGlobalSettings(ctx context.Context) (vault.Target, error) {
	shares := s.Capacities(ctx)
	best := -1
	for i, share := range shares {
		if !share.Online {
			continue
		}
		if best < 0 || share.Capacity.Free() > shares[best].Capacity.Free() {
			best = i
		}
	}
	if best < 0 {
		return nil, domain.NewCapacityExhausted(0, len(shares))
	}
	return s.shares.Get(shares[best].Name)
}

// Confirm returns the named share if it is reachable.
func (s *PlacementService) Confirm(ctx context.Context, name string) (vault.Target, error) {
	target, err := s.shares.Get(name)
	if err != nil {
		return nil, err
	}
	if _, err := target.Capacity(ctx); err != nil {
		return nil, err
	}
	return target, nil
}
