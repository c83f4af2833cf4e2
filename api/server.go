package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zombar/imageharvest/models"
)

// Runner executes one extraction job synchronously
type Runner interface {
	Run(ctx context.Context, req models.ExtractRequest) *models.ExtractResponse
}

// JobStore reads back persisted jobs. Nil when persistence is not
// configured; the jobs endpoints then report unavailable.
type JobStore interface {
	GetJob(id string) (*models.ExtractResponse, error)
	GetJobImages(jobID string) ([]models.FinalImage, error)
	Count() (int, error)
}

// Server represents the API server
type Server struct {
	pipeline    Runner
	jobs        JobStore
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		CORSEnabled: true,
	}
}

// NewServer creates a new API server. jobs may be nil.
func NewServer(config Config, pipeline Runner, jobs JobStore) *Server {
	s := &Server{
		pipeline:    pipeline,
		jobs:        jobs,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      otelhttp.NewHandler(s.middleware(s.mux), "imageharvest-api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // Allow time for long-running extractions
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/extract", s.handleExtract)
	s.mux.HandleFunc("/api/jobs/", s.handleJob) // Handles /api/jobs/{id} and /api/jobs/{id}/images
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests
func (s *Server) Handler() http.Handler {
	return s.middleware(s.mux)
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Logging (skip health checks to reduce noise)
		start := time.Now()
		if r.URL.Path != "/health" {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}

		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" {
			log.Printf("%s %s - completed in %v", r.Method, r.URL.Path, time.Since(start))
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	}
	if s.jobs != nil {
		if count, err := s.jobs.Count(); err == nil {
			payload["jobs"] = count
		}
	}

	respondJSON(w, http.StatusOK, payload)
}

// handleExtract runs an extraction job synchronously. A failed job is
// reported as a 400 with the structured failure payload; the endpoint
// never returns a bare 5xx for pipeline failures.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		respondJSON(w, http.StatusBadRequest, models.ExtractResponse{
			Status:      models.JobStatusFailed,
			GeneratedAt: time.Now().UTC(),
			Error:       "url missing from request body",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	resp := s.pipeline.Run(ctx, req)

	status := http.StatusOK
	if resp.Status == models.JobStatusFailed {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, resp)
}

// handleJob handles GET /api/jobs/{id} and GET /api/jobs/{id}/images
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.jobs == nil {
		respondError(w, http.StatusServiceUnavailable, "job persistence not configured")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if path == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if strings.HasSuffix(path, "/images") {
		s.handleJobImages(w, r, strings.TrimSuffix(path, "/images"))
		return
	}

	job, err := s.jobs.GetJob(path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleJobImages retrieves the stored images for a job
func (s *Server) handleJobImages(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.jobs.GetJob(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	images, err := s.jobs.GetJobImages(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"images": images,
		"count":  len(images),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
