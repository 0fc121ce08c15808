package handler

import (
	"net/http"
	"testing"

	"github.com/martijn/vmvault/internal/api/dto"
)

// takeSnapshots runs n snapshots of the workload to completion
func (env *testEnv) takeSnapshots(t *testing.T, workloadID string, n int) []string {
	t.Helper()

	var ids []string
	for i := 0; i < n; i++ {
		w := env.do(t, http.MethodPost, "/workloads/"+workloadID+"/snapshots", nil)
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d\nBody: %s", w.Code, w.Body.String())
		}
		ids = append(ids, *decode[dto.AsyncResponse](t, w).ResourceID)
		env.snapshots.Wait()
	}
	return ids
}

func TestListSnapshots(t *testing.T) {
	env := setupTestEnv(t)
	close(env.compute.release)
	web := env.createWorkload(t, "web", "vm-1")
	db := env.createWorkload(t, "db", "vm-2")
	env.takeSnapshots(t, web.ID, 2)
	env.takeSnapshots(t, db.ID, 1)

	w := env.makeRequest(t, "/snapshots")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}
	if got := decode[dto.SnapshotListResponse](t, w).Pagination.Total; got != 3 {
		t.Errorf("expected 3 snapshots, got %d", got)
	}

	w = env.makeRequest(t, "/snapshots?query=workload_id|"+web.ID+"&order=created_at|asc")
	resp := decode[dto.SnapshotListResponse](t, w)
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 snapshots for web, got %d", len(resp.Items))
	}
	if resp.Items[0].SnapshotType != "full" {
		t.Errorf("expected the oldest snapshot to be full, got %s", resp.Items[0].SnapshotType)
	}
	if resp.Items[1].SnapshotType != "incremental" {
		t.Errorf("expected the second snapshot to be incremental, got %s", resp.Items[1].SnapshotType)
	}

	w = env.makeRequest(t, "/snapshots?order=vault_key|asc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	env := setupTestEnv(t)

	w := env.makeRequest(t, "/snapshots/missing")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestDeleteSnapshot(t *testing.T) {
	env := setupTestEnv(t)
	close(env.compute.release)
	web := env.createWorkload(t, "web", "vm-1")
	ids := env.takeSnapshots(t, web.ID, 1)

	w := env.do(t, http.MethodDelete, "/snapshots/"+ids[0], nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d\nBody: %s", w.Code, w.Body.String())
	}

	w = env.makeRequest(t, "/snapshots?query=workload_id|"+web.ID)
	for _, item := range decode[dto.SnapshotListResponse](t, w).Items {
		if item.ID == ids[0] && item.Status == "available" {
			t.Errorf("expected snapshot %s to be gone", ids[0])
		}
	}

	w = env.do(t, http.MethodDelete, "/snapshots/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
