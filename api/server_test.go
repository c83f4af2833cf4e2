package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zombar/imageharvest/models"
)

// stubRunner returns a canned response for any request
type stubRunner struct {
	resp *models.ExtractResponse
	last models.ExtractRequest
}

func (s *stubRunner) Run(ctx context.Context, req models.ExtractRequest) *models.ExtractResponse {
	s.last = req
	return s.resp
}

// stubJobStore serves canned persisted jobs
type stubJobStore struct {
	jobs   map[string]*models.ExtractResponse
	images map[string][]models.FinalImage
}

func (s *stubJobStore) GetJob(id string) (*models.ExtractResponse, error) {
	return s.jobs[id], nil
}

func (s *stubJobStore) GetJobImages(jobID string) ([]models.FinalImage, error) {
	return s.images[jobID], nil
}

func (s *stubJobStore) Count() (int, error) {
	return len(s.jobs), nil
}

func newTestServer(runner Runner, jobs JobStore) *Server {
	return NewServer(Config{Addr: ":0", CORSEnabled: true}, runner, jobs)
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleExtractCompleted(t *testing.T) {
	runner := &stubRunner{
		resp: &models.ExtractResponse{
			JobID:       "job-1",
			Status:      models.JobStatusCompleted,
			SourceURL:   "https://example.com",
			GeneratedAt: time.Now().UTC(),
			Images: []models.FinalImage{
				{URL: "https://example.com/a.jpg", Hash: "00ff"},
			},
		},
	}
	server := newTestServer(runner, nil)

	rec := postJSON(t, server.Handler(), "/api/extract", models.ExtractRequest{URL: "https://example.com"})

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want 200", rec.Code)
	}

	var resp models.ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != models.JobStatusCompleted {
		t.Errorf("Status = %q, want completed", resp.Status)
	}
	if len(resp.Images) != 1 {
		t.Errorf("Expected 1 image, got %d", len(resp.Images))
	}
	if runner.last.URL != "https://example.com" {
		t.Errorf("Request URL not forwarded to pipeline: %q", runner.last.URL)
	}
}

func TestHandleExtractMissingURL(t *testing.T) {
	runner := &stubRunner{}
	server := newTestServer(runner, nil)

	rec := postJSON(t, server.Handler(), "/api/extract", map[string]string{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status code = %d, want 400", rec.Code)
	}

	var resp models.ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != models.JobStatusFailed {
		t.Errorf("Status = %q, want failed", resp.Status)
	}
	if !strings.Contains(resp.Error, "url missing") {
		t.Errorf("Error = %q, want it to mention the missing url", resp.Error)
	}
	if runner.last.URL != "" {
		t.Error("Pipeline must not run for an empty URL")
	}
}

func TestHandleExtractFailedJobIs400(t *testing.T) {
	runner := &stubRunner{
		resp: &models.ExtractResponse{
			JobID:       "job-2",
			Status:      models.JobStatusFailed,
			SourceURL:   "https://example.com",
			GeneratedAt: time.Now().UTC(),
			Error:       "failed to fetch page",
			Details:     "connection refused",
		},
	}
	server := newTestServer(runner, nil)

	rec := postJSON(t, server.Handler(), "/api/extract", models.ExtractRequest{URL: "https://example.com"})

	// Pipeline failures surface as structured 400 payloads, never 5xx
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status code = %d, want 400", rec.Code)
	}

	var resp models.ExtractResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Error != "failed to fetch page" {
		t.Errorf("Error = %q, want structured failure message", resp.Error)
	}
	if resp.Details != "connection refused" {
		t.Errorf("Details = %q, want diagnostic detail", resp.Details)
	}
}

func TestHandleExtractInvalidBody(t *testing.T) {
	server := newTestServer(&stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Status code = %d, want 400", rec.Code)
	}
}

func TestHandleExtractMethodNotAllowed(t *testing.T) {
	server := newTestServer(&stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/extract", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Status code = %d, want 405", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	jobs := &stubJobStore{jobs: map[string]*models.ExtractResponse{
		"a": {}, "b": {},
	}}
	server := newTestServer(&stubRunner{}, jobs)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want 200", rec.Code)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", payload["status"])
	}
	if payload["jobs"] != float64(2) {
		t.Errorf("jobs = %v, want 2", payload["jobs"])
	}
}

func TestHandleJobLookup(t *testing.T) {
	jobs := &stubJobStore{
		jobs: map[string]*models.ExtractResponse{
			"job-1": {
				JobID:  "job-1",
				Status: models.JobStatusCompleted,
			},
		},
		images: map[string][]models.FinalImage{
			"job-1": {{URL: "https://example.com/a.jpg"}},
		},
	}
	server := newTestServer(&stubRunner{}, jobs)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Job lookup status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/images", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Job images status = %d, want 200", rec.Code)
	}
	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if payload.Count != 1 {
		t.Errorf("count = %d, want 1", payload.Count)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/no-such-job", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Missing job status = %d, want 404", rec.Code)
	}
}

func TestHandleJobWithoutPersistence(t *testing.T) {
	server := newTestServer(&stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status code = %d, want 503 when persistence is off", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(&stubRunner{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/extract", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Preflight status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers missing from preflight response")
	}
}
