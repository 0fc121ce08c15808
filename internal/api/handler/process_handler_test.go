package handler

import (
	"net/http"
	"testing"

	"github.com/martijn/vmvault/internal/api/dto"
)

func TestListProcesses(t *testing.T) {
	tests := []struct {
		name           string
		queryString    string
		expectedStatus int
		expectedCount  int                                  // expected number of items in response
		expectedTotal  int                                  // expected total in pagination
		checkFunc      func(t *testing.T, resp interface{}) // custom validation
	}{
		{
			name:           "basic listing returns all processes with default pagination",
			queryString:    "",
			expectedStatus: http.StatusOK,
			expectedCount:  10,
			expectedTotal:  10,
		},
		{
			name:           "filter by status completed",
			queryString:    "?query=status|completed",
			expectedStatus: http.StatusOK,
			expectedCount:  8, // 8 completed processes (proc 1-6, 8, 10)
			expectedTotal:  8,
		},
		{
			name:           "filter by status in-progress",
			queryString:    "?query=status|in-progress",
			expectedStatus: http.StatusOK,
			expectedCount:  1, // 1 in-progress process
			expectedTotal:  1,
		},
		{
			name:           "filter by status failed",
			queryString:    "?query=status|failed",
			expectedStatus: http.StatusOK,
			expectedCount:  1, // 1 process with status "failed"
			expectedTotal:  1,
		},
		{
			name:           "filter by type upload",
			queryString:    "?query=type|upload",
			expectedStatus: http.StatusOK,
			expectedCount:  6,
			expectedTotal:  6,
		},
		{
			name:           "filter by type retention",
			queryString:    "?query=type|retention",
			expectedStatus: http.StatusOK,
			expectedCount:  2, // 2 retention sweeps
			expectedTotal:  2,
		},
		{
			name:           "filter by type import",
			queryString:    "?query=type|import",
			expectedStatus: http.StatusOK,
			expectedCount:  1, // 1 import
			expectedTotal:  1,
		},
		{
			name:           "filter by date range (Nov 5-15, 2025)",
			queryString:    "?query=start_time|gte|2025-11-05T00:00:00Z,start_time|lte|2025-11-15T23:59:59Z",
			expectedStatus: http.StatusOK,
			expectedCount:  4, // processes on Nov 6, 9, 11, 13
			expectedTotal:  4,
		},
		{
			name:           "order by start_time ascending",
			queryString:    "?order=start_time|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  10,
			expectedTotal:  10,
		},
		{
			name:           "order by start_time descending",
			queryString:    "?order=start_time|desc",
			expectedStatus: http.StatusOK,
			expectedCount:  10,
			expectedTotal:  10,
		},
		{
			name:           "order by status ascending",
			queryString:    "?order=status|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  10,
			expectedTotal:  10,
		},
		{
			name:           "pagination page 1 with per_page 3",
			queryString:    "?page=1&per_page=3&order=start_time|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  3,
			expectedTotal:  10,
		},
		{
			name:           "pagination page 2 with per_page 3",
			queryString:    "?page=2&per_page=3&order=start_time|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  3,
			expectedTotal:  10,
		},
		{
			name:           "pagination page 4 with per_page 3 (last partial page)",
			queryString:    "?page=4&per_page=3&order=start_time|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  1, // only 1 item on last page
			expectedTotal:  10,
		},
		{
			name:           "combined filters: completed uploads",
			queryString:    "?query=type|upload,status|completed&order=start_time|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  5, // proc 1-3, 5, 6
			expectedTotal:  5,
		},
		{
			name:           "combined filters: retention sweeps in date range",
			queryString:    "?query=type|retention,start_time|gte|2025-11-01T00:00:00Z&order=start_time|asc",
			expectedStatus: http.StatusOK,
			expectedCount:  2, // both sweeps
			expectedTotal:  2,
		},
		{
			name:           "filter by end_time isnull returns unfinished processes",
			queryString:    "?query=end_time|isnull",
			expectedStatus: http.StatusOK,
			expectedCount:  1, // the in-progress upload has no end_time
			expectedTotal:  1,
		},
		{
			name:           "filter by end_time isnotnull returns finished processes",
			queryString:    "?query=end_time|isnotnull",
			expectedStatus: http.StatusOK,
			expectedCount:  9, // 9 processes have end_time
			expectedTotal:  9,
		},
		{
			name:           "invalid query field returns 400",
			queryString:    "?query=invalid_field|value",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid order field returns 400",
			queryString:    "?order=invalid_field|desc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid operator returns 400",
			queryString:    "?query=status|invalidop|value",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.seedProcesses(t)

			w := env.makeRequest(t, "/processes"+tt.queryString)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d\nBody: %s", tt.expectedStatus, w.Code, w.Body.String())
				return
			}

			if tt.expectedStatus != http.StatusOK {
				// For error cases, verify we got an error response
				errResp := parseErrorResponse(t, w)
				if errResp.Code != tt.expectedStatus {
					t.Errorf("expected error code %d, got %d", tt.expectedStatus, errResp.Code)
				}
				return
			}

			resp := parseProcessListResponse(t, w)

			if len(resp.Items) != tt.expectedCount {
				t.Errorf("expected %d items, got %d", tt.expectedCount, len(resp.Items))
			}

			if resp.Pagination.Total != tt.expectedTotal {
				t.Errorf("expected total %d, got %d", tt.expectedTotal, resp.Pagination.Total)
			}

			if tt.checkFunc != nil {
				tt.checkFunc(t, resp)
			}
		})
	}
}

func TestListProcessesPaginationMetadata(t *testing.T) {
	env := setupTestEnv(t)
	env.seedProcesses(t)

	// Test pagination metadata
	w := env.makeRequest(t, "/processes?page=2&per_page=4")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	resp := parseProcessListResponse(t, w)

	if resp.Pagination.Page != 2 {
		t.Errorf("expected page 2, got %d", resp.Pagination.Page)
	}
	if resp.Pagination.PerPage != 4 {
		t.Errorf("expected per_page 4, got %d", resp.Pagination.PerPage)
	}
	if resp.Pagination.Total != 10 {
		t.Errorf("expected total 10, got %d", resp.Pagination.Total)
	}
	if resp.Pagination.TotalPages != 3 { // ceil(10/4) = 3
		t.Errorf("expected total_pages 3, got %d", resp.Pagination.TotalPages)
	}
}

func TestListProcessesStatusFiltering(t *testing.T) {
	env := setupTestEnv(t)
	env.seedProcesses(t)

	// Test filtering by status=completed
	w := env.makeRequest(t, "/processes?query=status|completed&order=start_time|asc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}

	resp := parseProcessListResponse(t, w)

	for i, item := range resp.Items {
		if item.Status != "completed" {
			t.Errorf("item[%d]: expected status 'completed', got %s", i, item.Status)
		}
	}
}

func TestListProcessesTypeFiltering(t *testing.T) {
	env := setupTestEnv(t)
	env.seedProcesses(t)

	// Test filtering by type=upload
	w := env.makeRequest(t, "/processes?query=type|upload&order=start_time|asc")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}

	resp := parseProcessListResponse(t, w)

	for i, item := range resp.Items {
		if item.Type != "upload" {
			t.Errorf("item[%d]: expected type 'upload', got %s", i, item.Type)
		}
	}
}

func TestListProcessesCombinedFiltering(t *testing.T) {
	env := setupTestEnv(t)
	env.seedProcesses(t)

	// Test combined filtering: upload type with in-progress status
	w := env.makeRequest(t, "/processes?query=type|upload,status|in-progress")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}

	resp := parseProcessListResponse(t, w)

	if len(resp.Items) != 1 {
		t.Errorf("expected 1 in-progress upload, got %d", len(resp.Items))
		return
	}

	item := resp.Items[0]
	if item.Type != "upload" {
		t.Errorf("expected type 'upload', got %s", item.Type)
	}
	if item.Status != "in-progress" {
		t.Errorf("expected status 'in-progress', got %s", item.Status)
	}
	if item.EndTime != nil {
		t.Errorf("expected no end_time, got %v", item.EndTime)
	}
}

func TestGetProcessByCommandID(t *testing.T) {
	env := setupTestEnv(t)
	env.seedProcesses(t)

	w := env.makeRequest(t, "/status/proc-009")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d\nBody: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.ProcessResponse](t, w)
	if resp.Type != "retention" || resp.Status != "failed" {
		t.Errorf("unexpected process %s/%s", resp.Type, resp.Status)
	}
	if resp.Link == nil || *resp.Link != "/status/proc-009" {
		t.Errorf("unexpected link %v", resp.Link)
	}

	w = env.makeRequest(t, "/status/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestGetProcessInvalidID(t *testing.T) {
	env := setupTestEnv(t)

	w := env.makeRequest(t, "/processes/abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}
