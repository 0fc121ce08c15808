package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/repository"
)

type ProcessService struct {
	processRepo repository.ProcessRepository
	log         logrus.FieldLogger
}

func NewProcessService(processRepo repository.ProcessRepository, log logrus.FieldLogger) *ProcessService {
	return &ProcessService{
		processRepo: processRepo,
		log:         log,
	}
}

// CreateProcess creates a new pending process record
func (s *ProcessService) CreateProcess(ctx context.Context, command string, processType domain.ProcessType, args map[string]interface{}) (*domain.Process, error) {
	process := domain.NewProcess(command, processType, args)

	if err := s.processRepo.Create(ctx, process); err != nil {
		return nil, fmt.Errorf("failed to create process: %w", err)
	}

	return process, nil
}

// MarkStarted moves a process to in-progress
func (s *ProcessService) MarkStarted(ctx context.Context, process *domain.Process) error {
	process.Start()
	return s.processRepo.Update(ctx, process)
}

// Finish completes the process, or fails it when err is set.
func (s *ProcessService) Finish(ctx context.Context, process *domain.Process, output string, err error) {
	if err != nil {
		process.Fail(err.Error())
	} else {
		process.Complete(output)
	}
	if uerr := s.processRepo.Update(ctx, process); uerr != nil {
		s.log.WithError(uerr).WithField("command_id", process.CommandID).Error("Failed to record process result")
	}
}

// RecoverStale fails processes left pending or in-progress by a previous run.
func (s *ProcessService) RecoverStale(ctx context.Context) (int, error) {
	running, err := s.processRepo.FindUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range running {
		p.Fail("interrupted by service restart")
		if err := s.processRepo.Update(ctx, p); err != nil {
			return 0, fmt.Errorf("failed to fail stale process %d: %w", p.ID, err)
		}
	}
	return len(running), nil
}

// GetProcess retrieves a process by ID
func (s *ProcessService) GetProcess(ctx context.Context, id int64) (*domain.Process, error) {
	return s.processRepo.FindByID(ctx, id)
}

// GetProcessByCommandID retrieves a process by command ID
func (s *ProcessService) GetProcessByCommandID(ctx context.Context, commandID string) (*domain.Process, error) {
	return s.processRepo.FindByCommandID(ctx, commandID)
}

// ListProcesses lists processes with filtering
func (s *ProcessService) ListProcesses(ctx context.Context, filter repository.ProcessFilter) ([]*domain.Process, error) {
	return s.processRepo.List(ctx, filter)
}

// CountProcesses counts processes with filtering
func (s *ProcessService) CountProcesses(ctx context.Context, filter repository.ProcessFilter) (int, error) {
	return s.processRepo.Count(ctx, filter)
}
