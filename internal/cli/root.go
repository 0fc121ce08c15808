package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/martijn/vmvault/internal/adapter/agent"
	"github.com/martijn/vmvault/internal/api"
	"github.com/martijn/vmvault/internal/core/service"
	"github.com/martijn/vmvault/internal/importchain"
	"github.com/martijn/vmvault/internal/infrastructure/sqlite"
	"github.com/martijn/vmvault/internal/logging"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
	"github.com/martijn/vmvault/pkg/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vmvault",
	Short: "vmvault - VM backup vault and snapshot lifecycle",
	Long: `vmvault keeps crash-consistent snapshots of VM workloads on backup shares.

It provides:
- Capacity-aware placement of workloads across local, NFS and S3 shares
- Full and incremental snapshots driven by per-workload job schedules
- Count and time based retention that never breaks an incremental chain
- Import of vault data written by earlier releases or other clouds
- REST API and Prometheus metrics`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		// Load configuration
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath+")")
}

// Services holds all initialized services
type Services struct {
	DB        *sqlite.DB
	Log       *logrus.Logger
	Registry  *vault.Registry
	Metrics   *metrics.ServerMetrics
	Processes *service.ProcessService
	Placement *service.PlacementService
	Workloads *service.WorkloadService
	Snapshots *service.SnapshotService
	Retention *service.RetentionService
	Imports   *service.ImportService
	Settings  *service.SettingService

	logCloser io.Closer
}

// initServices initializes all services
func initServices(ctx context.Context) (*Services, error) {
	log, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	// Initialize database
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry, err := vault.NewRegistryFromConfig(ctx, cfg, afero.NewOsFs(), log)
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize shares: %w", err)
	}

	// Initialize repositories
	workloadRepo := sqlite.NewWorkloadRepository(db)
	snapshotRepo := sqlite.NewSnapshotRepository(db)
	resourceRepo := sqlite.NewSnapshotResourceRepository(db)
	settingRepo := sqlite.NewSettingRepository(db)
	processRepo := sqlite.NewProcessRepository(db)

	// Initialize socket client
	agentClient := agent.NewClient(cfg.AgentSocketPath, cfg.AgentTimeout, log)

	// Initialize services
	m := metrics.NewServerMetrics()
	processService := service.NewProcessService(processRepo, log)
	placementService := service.NewPlacementService(registry, cfg.FullBackupFactor, cfg.IncrBackupFactor, cfg.DefaultVMDiskSize, m, log)
	retentionService := service.NewRetentionService(workloadRepo, snapshotRepo, resourceRepo, registry, processService, m, clock.WallClock, log)
	snapshotService := service.NewSnapshotService(workloadRepo, snapshotRepo, resourceRepo, placementService, retentionService,
		processService, agentClient, afero.NewOsFs(), cfg.MaxConcurrentSnapshotStarts, m, clock.WallClock, log)
	workloadService := service.NewWorkloadService(workloadRepo, snapshotRepo, placementService, log)
	settingService := service.NewSettingService(settingRepo, registry, placementService, cfg.CloudUniqueID, log)

	host, _ := os.Hostname()
	importer := importchain.NewImporter(importchain.NewRegistry(importchain.ChainOptions{Host: host}),
		workloadRepo, snapshotRepo, resourceRepo, settingRepo, agentClient, cfg.CloudUniqueID, m, log)
	importService := service.NewImportService(importer, registry, processService, log)

	return &Services{
		DB:        db,
		Log:       log,
		Registry:  registry,
		Metrics:   m,
		Processes: processService,
		Placement: placementService,
		Workloads: workloadService,
		Snapshots: snapshotService,
		Retention: retentionService,
		Imports:   importService,
		Settings:  settingService,
		logCloser: logCloser,
	}, nil
}

// API returns the services the HTTP server exposes
func (s *Services) API() api.Services {
	return api.Services{
		Processes: s.Processes,
		Placement: s.Placement,
		Workloads: s.Workloads,
		Snapshots: s.Snapshots,
		Retention: s.Retention,
		Imports:   s.Imports,
		Settings:  s.Settings,
		Metrics:   s.Metrics,
	}
}

// Recover cleans up after a previous run that did not shut down cleanly
func (s *Services) Recover(ctx context.Context) error {
	processes, err := s.Processes.RecoverStale(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover processes: %w", err)
	}
	snapshots, err := s.Snapshots.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover snapshots: %w", err)
	}
	if processes > 0 || snapshots > 0 {
		s.Log.WithFields(logrus.Fields{
			"processes": processes,
			"snapshots": snapshots,
		}).Warn("Recovered work interrupted by a previous run")
	}
	return nil
}

// Close waits for background work, then closes all resources
func (s *Services) Close() {
	s.Snapshots.Wait()
	s.Retention.Wait()
	s.Imports.Wait()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.logCloser != nil {
		s.logCloser.Close()
	}
}
