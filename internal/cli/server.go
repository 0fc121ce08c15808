package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martijn/vmvault/internal/api"
	"github.com/martijn/vmvault/internal/scheduler"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server and job scheduler",
	Long:  "Start the REST API server and fire scheduled snapshots and retention sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		services, err := initServices(ctx)
		if err != nil {
			return err
		}
		defer services.Close()
		log := services.Log

		if err := services.Recover(ctx); err != nil {
			return err
		}

		sched := scheduler.New(services.Workloads, services.Snapshots, services.Retention, cfg.RetentionSweepInterval, log)
		services.Workloads.SetObserver(sched)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		server, err := api.NewServer(cfg, log, services.API())
		if err != nil {
			return err
		}

		// Start server in goroutine
		serverErr := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		// Wait for interrupt signal or server error
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		log.Info("Server is ready")

		select {
		case err := <-serverErr:
			<-sched.Stop().Done()
			return fmt.Errorf("server error: %w", err)
		case <-sigChan:
			log.Info("Shutting down gracefully")
		}

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("Scheduler jobs still running at shutdown")
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		log.Info("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
