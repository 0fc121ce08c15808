package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/importchain"
	"github.com/martijn/vmvault/internal/vault"
)

// TargetSet lists every configured share.
type TargetSet interface {
	Targets() []vault.Target
}

type ImportService struct {
	importer  *importchain.Importer
	targets   TargetSet
	processes *ProcessService
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

func NewImportService(importer *importchain.Importer, targets TargetSet, processes *ProcessService, log logrus.FieldLogger) *ImportService {
	return &ImportService{
		importer:  importer,
		targets:   targets,
		processes: processes,
		log:       log,
	}
}

// ImportWorkloads runs the import chain over every share and waits for it.
func (s *ImportService) ImportWorkloads(ctx context.Context, opts importchain.Options) (*importchain.Result, error) {
	return s.importer.Import(ctx, s.targets.Targets(), opts)
}

// StartImport runs the import in the background, tracked by an import process.
func (s *ImportService) StartImport(ctx context.Context, opts importchain.Options) (*domain.Process, error) {
	args := map[string]interface{}{
		"mode":     string(opts.Mode),
		"settings": opts.Settings,
	}
	if len(opts.WorkloadIDs) > 0 {
		ids := make([]interface{}, len(opts.WorkloadIDs))
		for i, id := range opts.WorkloadIDs {
			ids[i] = id
		}
		args["workload_ids"] = ids
	}

	process, err := s.processes.CreateProcess(ctx, "import", domain.ProcessTypeImport, args)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bg := context.Background()
		if err := s.processes.MarkStarted(bg, process); err != nil {
			s.log.WithError(err).Error("Failed to start import process")
		}

		result, err := s.ImportWorkloads(bg, opts)
		output := ""
		if result != nil {
			if b, merr := json.Marshal(result); merr == nil {
				output = string(b)
			}
			if err == nil && len(result.Failed) > 0 {
				err = fmt.Errorf("%d workload(s) failed to import", len(result.Failed))
			}
		}
		if err != nil && output != "" {
			err = fmt.Errorf("%w: %s", err, output)
		}
		s.processes.Finish(bg, process, output, err)
	}()

	return process, nil
}

// Wait blocks until background imports have finished.
func (s *ImportService) Wait() {
	s.wg.Wait()
}
