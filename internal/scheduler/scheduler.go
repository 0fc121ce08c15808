// Package scheduler fires workload snapshots on their job schedule and runs
// the periodic retention sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/service"
)

const scheduledSnapshotName = "jobscheduler"

type WorkloadSource interface {
	ScheduledWorkloads(ctx context.Context) ([]*domain.Workload, error)
}

type SnapshotStarter interface {
	StartSnapshot(ctx context.Context, workloadID string, opts service.SnapshotOptions) (*domain.Snapshot, error)
}

type RetentionSweeper interface {
	StartSweep(ctx context.Context, workloadID string) (*domain.Process, error)
}

// Scheduler owns one cron entry per scheduled workload plus the sweep entry.
type Scheduler struct {
	cron          *cron.Cron
	workloads     WorkloadSource
	snapshots     SnapshotStarter
	retention     RetentionSweeper
	sweepInterval time.Duration
	log           logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	sweepID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ service.ScheduleObserver = (*Scheduler)(nil)

func New(
	workloads WorkloadSource,
	snapshots SnapshotStarter,
	retention RetentionSweeper,
	sweepInterval time.Duration,
	log logrus.FieldLogger,
) *Scheduler {
	logger := &cronLogger{log: log.WithField("component", "cron")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		workloads:     workloads,
		snapshots:     snapshots,
		retention:     retention,
		sweepInterval: sweepInterval,
		log:           log,
		entries:       make(map[string]cron.EntryID),
		ctx:           context.Background(),
	}
}

// Start registers every scheduled workload and the retention sweep, then
// starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	workloads, err := s.workloads.ScheduledWorkloads(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduled workloads: %w", err)
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	for _, w := range workloads {
		s.WorkloadChanged(w)
	}

	if s.sweepInterval > 0 {
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.sweepInterval), s.sweep)
		if err != nil {
			return fmt.Errorf("failed to register retention sweep: %w", err)
		}
		s.mu.Lock()
		s.sweepID = id
		s.mu.Unlock()
	}

	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"workloads":      len(workloads),
		"sweep_interval": s.sweepInterval,
	}).Info("Scheduler started")
	return nil
}

// Stop halts the cron loop and returns a context that is done once running
// jobs have returned.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.log.Info("Scheduler stopped")
	return done
}

// WorkloadChanged replaces the workload's cron entry. Workloads with a
// disabled schedule or in a terminal state lose their entry.
func (s *Scheduler) WorkloadChanged(workload *domain.Workload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.WithField("workload", workload.ID)
	s.removeLocked(workload.ID)

	if !workload.JobSchedule.Enabled {
		return
	}
	switch workload.Status {
	case domain.WorkloadStatusDeleted, domain.WorkloadStatusError:
		return
	}

	trigger, err := NewTrigger(workload.JobSchedule, workload.CreatedAt)
	if err != nil {
		log.WithError(err).Error("Invalid job schedule")
		return
	}
	if trigger.Next(time.Now().UTC()).IsZero() {
		log.WithField("trigger", trigger.String()).Info("Schedule has ended")
		return
	}

	id := workload.ID
	s.entries[id] = s.cron.Schedule(trigger, cron.FuncJob(func() { s.fire(id) }))
	log.WithField("trigger", trigger.String()).Debug("Registered schedule")
}

func (s *Scheduler) WorkloadRemoved(workloadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(workloadID)
}

func (s *Scheduler) removeLocked(workloadID string) {
	if id, ok := s.entries[workloadID]; ok {
		s.cron.Remove(id)
		delete(s.entries, workloadID)
	}
}

// NextRun reports the next fire time of a workload's entry.
func (s *Scheduler) NextRun(workloadID string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[workloadID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	if entry.Next.IsZero() {
		// not started yet
		return entry.Schedule.Next(time.Now().UTC()), true
	}
	return entry.Next, true
}

// Scheduled lists the workload ids holding a cron entry.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) fire(workloadID string) {
	log := s.log.WithField("workload", workloadID)
	snapshot, err := s.snapshots.StartSnapshot(s.context(), workloadID, service.SnapshotOptions{Name: scheduledSnapshotName})
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		log.WithError(err).Warn("Skipping scheduled snapshot")
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("Scheduled workload no longer exists")
		s.WorkloadRemoved(workloadID)
	case err != nil:
		log.WithError(err).Error("Failed to start scheduled snapshot")
	default:
		log.WithField("snapshot", snapshot.ID).Info("Started scheduled snapshot")
	}
}

func (s *Scheduler) sweep() {
	process, err := s.retention.StartSweep(s.context(), "")
	if err != nil {
		s.log.WithError(err).Error("Failed to start retention sweep")
		return
	}
	s.log.WithField("process", process.CommandID).Debug("Started retention sweep")
}

// cronLogger routes cron's own logging to logrus.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
