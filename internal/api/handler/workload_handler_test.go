package handler

import (
	"net/http"
	"testing"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/core/domain"
)

func dailySchedule() domain.JobSchedule {
	return domain.JobSchedule{
		Enabled:              true,
		Interval:             24,
		RetentionPolicyType:  domain.RetentionByCount,
		RetentionPolicyValue: 3,
		FullBackupInterval:   7,
	}
}

// createWorkload posts a workload with the given VMs and returns the response
func (env *testEnv) createWorkload(t *testing.T, name string, vmIDs ...string) dto.WorkloadResponse {
	t.Helper()

	req := dto.CreateWorkloadRequest{
		Name:        name,
		UserID:      "user-1",
		ProjectID:   "project-1",
		JobSchedule: dailySchedule(),
	}
	for _, id := range vmIDs {
		req.Instances = append(req.Instances, dto.WorkloadVMRequest{VMID: id, VMName: "vm-" + id})
	}

	w := env.do(t, http.MethodPost, "/workloads", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d\nBody: %s", w.Code, w.Body.String())
	}
	return decode[dto.WorkloadResponse](t, w)
}

func TestCreateWorkload(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.createWorkload(t, "web", "vm-1", "vm-2")

	if resp.ID == "" {
		t.Fatal("expected workload id")
	}
	if resp.Status != string(domain.WorkloadStatusAvailable) {
		t.Errorf("expected status available, got %s", resp.Status)
	}
	if resp.BackupTarget != "share-a" {
		t.Errorf("expected placement on the first share with room, got %q", resp.BackupTarget)
	}
	if len(resp.Instances) != 2 {
		t.Errorf("expected 2 instances, got %d", len(resp.Instances))
	}
}

func TestCreateWorkloadValidation(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{
			name: "missing name",
			body: dto.CreateWorkloadRequest{
				JobSchedule: dailySchedule(),
				Instances:   []dto.WorkloadVMRequest{{VMID: "vm-1"}},
			},
		},
		{
			name: "no instances",
			body: dto.CreateWorkloadRequest{Name: "web", JobSchedule: dailySchedule()},
		},
		{
			name: "instance without vm_id",
			body: dto.CreateWorkloadRequest{
				Name:        "web",
				JobSchedule: dailySchedule(),
				Instances:   []dto.WorkloadVMRequest{{VMName: "nameless"}},
			},
		},
		{
			name: "invalid retention policy",
			body: dto.CreateWorkloadRequest{
				Name:        "web",
				JobSchedule: domain.JobSchedule{Interval: 24, RetentionPolicyType: "forever", RetentionPolicyValue: 1},
				Instances:   []dto.WorkloadVMRequest{{VMID: "vm-1"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)

			w := env.do(t, http.MethodPost, "/workloads", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d\nBody: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetWorkloadNotFound(t *testing.T) {
	env := setupTestEnv(t)

	w := env.makeRequest(t, "/workloads/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	errResp := parseErrorResponse(t, w)
	if errResp.Code != http.StatusNotFound {
		t.Errorf("expected error code 404, got %d", errResp.Code)
	}
}

func TestListWorkloads(t *testing.T) {
	env := setupTestEnv(t)
	env.createWorkload(t, "alpha", "vm-1")
	env.createWorkload(t, "beta", "vm-2")

	w := env.makeRequest(t, "/workloads?order=name|desc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.WorkloadListResponse](t, w)
	if resp.Pagination.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Pagination.Total)
	}
	if len(resp.Items) != 2 || resp.Items[0].Name != "beta" {
		t.Errorf("expected beta first, got %+v", resp.Items)
	}

	w = env.makeRequest(t, "/workloads?query=name|alpha")
	resp = decode[dto.WorkloadListResponse](t, w)
	if len(resp.Items) != 1 || resp.Items[0].Name != "alpha" {
		t.Errorf("expected only alpha, got %+v", resp.Items)
	}

	w = env.makeRequest(t, "/workloads?query=secret|x")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown field, got %d", w.Code)
	}
}

func TestUpdateWorkload(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createWorkload(t, "web", "vm-1")

	name := "web-renamed"
	w := env.do(t, http.MethodPut, "/workloads/"+created.ID, dto.UpdateWorkloadRequest{
		Name:      &name,
		Instances: []dto.WorkloadVMRequest{{VMID: "vm-1"}, {VMID: "vm-3"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.WorkloadResponse](t, w)
	if resp.Name != name {
		t.Errorf("expected name %s, got %s", name, resp.Name)
	}
	if resp.Status != string(domain.WorkloadStatusAvailable) {
		t.Errorf("expected workload to be unlocked after update, got %s", resp.Status)
	}
	if len(resp.Instances) != 2 {
		t.Errorf("expected 2 instances, got %d", len(resp.Instances))
	}
}

func TestStartSnapshotLocksWorkload(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createWorkload(t, "web", "vm-1")

	w := env.do(t, http.MethodPost, "/workloads/"+created.ID+"/snapshots", dto.StartSnapshotRequest{Name: "first"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d\nBody: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.AsyncResponse](t, w)
	if resp.ResourceID == nil || resp.Link == nil || *resp.Link != "/snapshots/"+*resp.ResourceID {
		t.Fatalf("unexpected async response %+v", resp)
	}

	// The capture is still blocked, so the workload is locked
	w = env.do(t, http.MethodPost, "/workloads/"+created.ID+"/snapshots", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409 while locked, got %d\nBody: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodDelete, "/workloads/"+created.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409 deleting a locked workload, got %d", w.Code)
	}

	close(env.compute.release)
	env.snapshots.Wait()

	w = env.makeRequest(t, "/snapshots/"+*resp.ResourceID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}
	snap := decode[dto.SnapshotDetailResponse](t, w)
	if snap.Status != string(domain.SnapshotStatusAvailable) {
		t.Errorf("expected snapshot available, got %s", snap.Status)
	}
	if snap.SnapshotType != string(domain.SnapshotTypeFull) {
		t.Errorf("expected first snapshot to be full, got %s", snap.SnapshotType)
	}
	if len(snap.Instances) != 1 {
		t.Errorf("expected 1 snapshot VM, got %d", len(snap.Instances))
	}

	w = env.makeRequest(t, "/workloads/"+created.ID)
	if got := decode[dto.WorkloadResponse](t, w).Status; got != string(domain.WorkloadStatusAvailable) {
		t.Errorf("expected workload available after snapshot, got %s", got)
	}
}

func TestDeleteWorkload(t *testing.T) {
	env := setupTestEnv(t)
	created := env.createWorkload(t, "web", "vm-1")

	w := env.do(t, http.MethodDelete, "/workloads/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d\nBody: %s", w.Code, w.Body.String())
	}

	w = env.makeRequest(t, "/workloads/"+created.ID)
	if got := decode[dto.WorkloadResponse](t, w).Status; got != string(domain.WorkloadStatusDeleted) {
		t.Errorf("expected workload deleted, got %s", got)
	}
}

func TestDeleteWorkloadWithSnapshots(t *testing.T) {
	env := setupTestEnv(t)
	close(env.compute.release)
	created := env.createWorkload(t, "web", "vm-1")

	w := env.do(t, http.MethodPost, "/workloads/"+created.ID+"/snapshots", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d\nBody: %s", w.Code, w.Body.String())
	}
	env.snapshots.Wait()

	w = env.do(t, http.MethodDelete, "/workloads/"+created.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d\nBody: %s", w.Code, w.Body.String())
	}
}

func TestValidateChain(t *testing.T) {
	env := setupTestEnv(t)
	close(env.compute.release)
	created := env.createWorkload(t, "web", "vm-1")

	env.do(t, http.MethodPost, "/workloads/"+created.ID+"/snapshots", nil)
	env.snapshots.Wait()

	w := env.makeRequest(t, "/workloads/"+created.ID+"/chain")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}

	w = env.makeRequest(t, "/workloads/missing/chain")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
