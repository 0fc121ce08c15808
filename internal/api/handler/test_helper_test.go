package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/api/middleware"
	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/service"
	"github.com/martijn/vmvault/internal/importchain"
	"github.com/martijn/vmvault/internal/infrastructure/sqlite"
	"github.com/martijn/vmvault/internal/metrics"
	"github.com/martijn/vmvault/internal/vault"
)

// testEnv holds all test dependencies
type testEnv struct {
	db        *sqlite.DB
	router    *gin.Engine
	compute   *blockingCompute
	snapshots *service.SnapshotService
	retention *service.RetentionService
	imports   *service.ImportService
}

// blockingCompute captures VMs without disks and holds every capture until
// release is closed, keeping the workload locked meanwhile.
type blockingCompute struct {
	release chan struct{}
}

func (c *blockingCompute) Pause(ctx context.Context, vmID string) error  { return nil }
func (c *blockingCompute) Resume(ctx context.Context, vmID string) error { return nil }

func (c *blockingCompute) Snapshot(ctx context.Context, vmID string, full bool) (*service.VMCapture, error) {
	<-c.release
	return &service.VMCapture{VMID: vmID}, nil
}

// setupTestEnv creates a test environment with in-memory SQLite database and
// two in-memory shares
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/vault/a", 0o755)
	_ = fs.MkdirAll("/vault/b", 0o755)
	registry := vault.NewRegistry([]vault.Target{
		vault.NewLocalTarget("share-a", "/vault/a", 10<<30, fs),
		vault.NewLocalTarget("share-b", "/vault/b", 50<<30, fs),
	}, log)

	// Create repositories
	workloadRepo := sqlite.NewWorkloadRepository(db)
	snapshotRepo := sqlite.NewSnapshotRepository(db)
	resourceRepo := sqlite.NewSnapshotResourceRepository(db)
	settingRepo := sqlite.NewSettingRepository(db)
	processRepo := sqlite.NewProcessRepository(db)

	// Create services
	m := metrics.NewServerMetrics()
	compute := &blockingCompute{release: make(chan struct{})}
	processService := service.NewProcessService(processRepo, log)
	placementService := service.NewPlacementService(registry, 50, 10, 1<<30, m, log)
	retentionService := service.NewRetentionService(workloadRepo, snapshotRepo, resourceRepo, registry, processService, m, clock.WallClock, log)
	snapshotService := service.NewSnapshotService(workloadRepo, snapshotRepo, resourceRepo, placementService, retentionService,
		processService, compute, fs, 1, m, clock.WallClock, log)
	workloadService := service.NewWorkloadService(workloadRepo, snapshotRepo, placementService, log)
	settingService := service.NewSettingService(settingRepo, registry, placementService, "cloud-1", log)
	importer := importchain.NewImporter(importchain.NewRegistry(importchain.ChainOptions{}), workloadRepo, snapshotRepo,
		resourceRepo, settingRepo, nil, "cloud-1", m, log)
	importService := service.NewImportService(importer, registry, processService, log)

	// Create handlers
	processHandler := NewProcessHandler(processService)
	workloadHandler := NewWorkloadHandler(workloadService, snapshotService, retentionService)
	snapshotHandler := NewSnapshotHandler(snapshotService)
	shareHandler := NewShareHandler(placementService)
	operationsHandler := NewOperationsHandler(retentionService, importService)
	settingHandler := NewSettingHandler(settingService)

	// Setup gin router in test mode
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(log))

	router.GET("/processes", processHandler.ListProcesses)
	router.GET("/processes/:id", processHandler.GetProcess)
	router.GET("/status/:command_id", processHandler.GetProcessByCommandID)
	router.GET("/shares", shareHandler.ListShares)
	router.POST("/workloads", workloadHandler.CreateWorkload)
	router.GET("/workloads", workloadHandler.ListWorkloads)
	router.GET("/workloads/:id", workloadHandler.GetWorkload)
	router.PUT("/workloads/:id", workloadHandler.UpdateWorkload)
	router.DELETE("/workloads/:id", workloadHandler.DeleteWorkload)
	router.GET("/workloads/:id/chain", workloadHandler.ValidateChain)
	router.POST("/workloads/:id/snapshots", workloadHandler.StartSnapshot)
	router.GET("/snapshots", snapshotHandler.ListSnapshots)
	router.GET("/snapshots/:id", snapshotHandler.GetSnapshot)
	router.DELETE("/snapshots/:id", snapshotHandler.DeleteSnapshot)
	router.POST("/retention", operationsHandler.Retention)
	router.POST("/import", operationsHandler.Import)
	router.GET("/settings", settingHandler.ListSettings)
	router.PUT("/settings/:name", settingHandler.UpsertSetting)

	env := &testEnv{
		db:        db,
		router:    router,
		compute:   compute,
		snapshots: snapshotService,
		retention: retentionService,
		imports:   importService,
	}
	t.Cleanup(env.cleanup)
	return env
}

// cleanup lets background work finish, then closes the test database
func (env *testEnv) cleanup() {
	select {
	case <-env.compute.release:
	default:
		close(env.compute.release)
	}
	env.snapshots.Wait()
	env.retention.Wait()
	env.imports.Wait()
	if env.db != nil {
		env.db.Close()
	}
}

// seedProcesses populates the process table for filtering tests
func (env *testEnv) seedProcesses(t *testing.T) {
	t.Helper()

	// Base time: Nov 1, 2025
	baseTime := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	processes := []struct {
		commandID string
		command   string
		status    domain.ProcessStatus
		procType  domain.ProcessType
		startTime time.Time
		endTime   *time.Time
	}{
		{"proc-001", "upload", domain.ProcessStatusCompleted, domain.ProcessTypeUpload, baseTime, ptr(baseTime.Add(10 * time.Minute))},
		{"proc-002", "upload", domain.ProcessStatusCompleted, domain.ProcessTypeUpload, baseTime.Add(day), ptr(baseTime.Add(day + 10*time.Minute))},
		{"proc-003", "upload", domain.ProcessStatusCompleted, domain.ProcessTypeUpload, baseTime.Add(5 * day), ptr(baseTime.Add(5*day + 10*time.Minute))},
		{"proc-004", "snapshot", domain.ProcessStatusCompleted, domain.ProcessTypeSnapshot, baseTime.Add(10 * day), ptr(baseTime.Add(10*day + 10*time.Minute))},
		{"proc-005", "upload", domain.ProcessStatusCompleted, domain.ProcessTypeUpload, baseTime.Add(15 * day), ptr(baseTime.Add(15*day + 10*time.Minute))},
		{"proc-006", "upload", domain.ProcessStatusCompleted, domain.ProcessTypeUpload, baseTime.Add(20 * day), ptr(baseTime.Add(20*day + 10*time.Minute))},
		{"proc-007", "upload", domain.ProcessStatusInProgress, domain.ProcessTypeUpload, baseTime.Add(25 * day), nil},
		{"proc-008", "retention", domain.ProcessStatusCompleted, domain.ProcessTypeRetention, baseTime.Add(3 * day), ptr(baseTime.Add(3*day + 30*time.Minute))},
		{"proc-009", "retention", domain.ProcessStatusFailed, domain.ProcessTypeRetention, baseTime.Add(8 * day), ptr(baseTime.Add(8*day + 5*time.Minute))},
		{"proc-010", "import", domain.ProcessStatusCompleted, domain.ProcessTypeImport, baseTime.Add(12 * day), ptr(baseTime.Add(12*day + 2*time.Minute))},
	}

	for _, p := range processes {
		var endTimeStr interface{}
		if p.endTime != nil {
			endTimeStr = p.endTime.Format(time.RFC3339)
		}
		_, err := env.db.Exec(`
			INSERT INTO process (command_id, command, status, start_time, end_time, type, args)
			VALUES (?, ?, ?, ?, ?, ?, '{}')
		`, p.commandID, p.command, p.status, p.startTime.Format(time.RFC3339), endTimeStr, p.procType)
		if err != nil {
			t.Fatalf("failed to seed process %s: %v", p.commandID, err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

// makeRequest performs a GET request and returns the response
func (env *testEnv) makeRequest(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do(t, http.MethodGet, path, nil)
}

// do performs a request with an optional JSON body
func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var resp T
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v\nBody: %s", err, w.Body.String())
	}
	return resp
}

// parseProcessListResponse parses the response body into ProcessListResponse
func parseProcessListResponse(t *testing.T, w *httptest.ResponseRecorder) dto.ProcessListResponse {
	t.Helper()
	return decode[dto.ProcessListResponse](t, w)
}

// parseErrorResponse parses the response body into ErrorResponse
func parseErrorResponse(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	return decode[dto.ErrorResponse](t, w)
}
