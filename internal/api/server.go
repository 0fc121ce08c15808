package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/api/handler"
	"github.com/martijn/vmvault/internal/api/middleware"
	"github.com/martijn/vmvault/internal/core/service"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/pkg/config"
)

// Services are the core services exposed over HTTP
type Services struct {
	Processes *service.ProcessService
	Placement *service.PlacementService
	Workloads *service.WorkloadService
	Snapshots *service.SnapshotService
	Retention *service.RetentionService
	Imports   *service.ImportService
	Settings  *service.SettingService
	Metrics   *metrics.ServerMetrics
}

type Server struct {
	router *gin.Engine
	srv    *http.Server
	config *config.Config
	log    logrus.FieldLogger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, log logrus.FieldLogger, services Services) (*Server, error) {
	// Set Gin mode
	if !cfg.IsDevMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := services.Metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	// Initialize handlers
	processHandler := handler.NewProcessHandler(services.Processes)
	workloadHandler := handler.NewWorkloadHandler(services.Workloads, services.Snapshots, services.Retention)
	snapshotHandler := handler.NewSnapshotHandler(services.Snapshots)
	shareHandler := handler.NewShareHandler(services.Placement)
	operationsHandler := handler.NewOperationsHandler(services.Retention, services.Imports)
	settingHandler := handler.NewSettingHandler(services.Settings)

	router.GET("/shares", shareHandler.ListShares)

	// Workloads
	workloads := router.Group("/workloads")
	{
		workloads.POST("", workloadHandler.CreateWorkload)
		workloads.GET("", workloadHandler.ListWorkloads)
		workloads.GET("/:id", workloadHandler.GetWorkload)
		workloads.PUT("/:id", workloadHandler.UpdateWorkload)
		workloads.DELETE("/:id", workloadHandler.DeleteWorkload)
		workloads.GET("/:id/chain", workloadHandler.ValidateChain)
		workloads.POST("/:id/snapshots", workloadHandler.StartSnapshot)
	}

	// Snapshots
	snapshots := router.Group("/snapshots")
	{
		snapshots.GET("", snapshotHandler.ListSnapshots)
		snapshots.GET("/:id", snapshotHandler.GetSnapshot)
		snapshots.DELETE("/:id", snapshotHandler.DeleteSnapshot)
	}

	router.POST("/retention", operationsHandler.Retention)
	router.POST("/import", operationsHandler.Import)

	// Settings
	settings := router.Group("/settings")
	{
		settings.GET("", settingHandler.ListSettings)
		settings.PUT("/:name", settingHandler.UpsertSetting)
	}

	// Processes
	processes := router.Group("/processes")
	{
		processes.GET("", processHandler.ListProcesses)
		processes.GET("/:id", processHandler.GetProcess)
	}

	// Process status by command ID
	router.GET("/status/:command_id", processHandler.GetProcessByCommandID)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return &Server{
		router: router,
		config: cfg,
		log:    log,
	}, nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)

	s.srv = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Start with or without SSL
	if s.config.SSLCert != "" && s.config.SSLKey != "" {
		s.log.WithField("addr", addr).Info("Starting HTTPS server")
		return s.srv.ListenAndServeTLS(s.config.SSLCert, s.config.SSLKey)
	}

	s.log.WithField("addr", addr).Info("Starting HTTP server")
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
