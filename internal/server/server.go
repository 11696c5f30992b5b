package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/iconlayers/internal/cache"
	"github.com/cwbudde/iconlayers/internal/imageio"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

// Server represents the HTTP server.
type Server struct {
	jobManager *JobManager
	cache      cache.Cache
	addr       string
	server     *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer creates a new HTTP server with the given result cache. If
// imgCache is nil, every job recomputes from scratch (no cache lookups or
// saves).
func NewServer(addr string, imgCache cache.Cache) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		cache:      imgCache,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	handler := s.loggingMiddleware(s.corsMiddleware(mux))

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Decomposition jobs run in a
// single synchronous pass (no per-iteration state to snapshot), so there is
// nothing to checkpoint on shutdown beyond what runJob already saved to the
// cache as each job finished.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancel()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*.
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "layers" && len(parts) == 2:
		s.handleListLayers(w, r, jobID)
	case parts[1] == "layers" && len(parts) == 3:
		s.handleGetLayer(w, r, jobID, parts[2])
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// createJobRequest is the JSON body POST /api/v1/jobs accepts.
type createJobRequest struct {
	SourcePath string          `json:"sourcePath"`
	Config     pipeline.Config `json:"config"`
}

// handleCreateJob handles POST /api/v1/jobs.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if req.SourcePath == "" {
		http.Error(w, "sourcePath is required", http.StatusBadRequest)
		return
	}

	config := req.Config
	if config.NumSegments <= 0 || config.NumberOfClusters <= 0 {
		defaults := pipeline.DefaultConfig()
		if config.NumSegments <= 0 {
			config.NumSegments = defaults.NumSegments
		}
		if config.Compactness <= 0 {
			config.Compactness = defaults.Compactness
		}
		if config.SLICIterations <= 0 {
			config.SLICIterations = defaults.SLICIterations
		}
		if config.LabScale == [3]float32{} {
			config.LabScale = defaults.LabScale
		}
		if config.NumberOfClusters <= 0 {
			config.NumberOfClusters = defaults.NumberOfClusters
		}
		if config.ClusterMaxIterations <= 0 {
			config.ClusterMaxIterations = defaults.ClusterMaxIterations
		}
		if config.ConvergenceEpsilon <= 0 {
			config.ConvergenceEpsilon = defaults.ConvergenceEpsilon
		}
		if config.MergeStrategy == "" {
			config.MergeStrategy = defaults.MergeStrategy
		}
	}

	job := s.jobManager.CreateJob(req.SourcePath, config)

	go runJob(s.ctx, s.jobManager, s.cache, job.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// handleListJobs handles GET /api/v1/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status.
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":                job.ID,
		"state":             job.State,
		"sourcePath":        job.SourcePath,
		"config":            job.Config,
		"currentStage":      job.CurrentStage,
		"finalClusterCount": job.FinalClusterCount,
		"layerCount":        job.LayerCount,
		"fromCache":         job.FromCache,
		"elapsed":           elapsed.Seconds(),
		"startTime":         job.StartTime,
		"endTime":           job.EndTime,
		"error":             job.Error,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleListLayers handles GET /api/v1/jobs/:id/layers.
func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.State != StateCompleted {
		http.Error(w, "Job has no results yet", http.StatusNotFound)
		return
	}

	names := make([]string, job.LayerCount)
	for i := range names {
		names[i] = layerFilename(i)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobId":      jobID,
		"layerCount": job.LayerCount,
		"layers":     names,
	})
}

// handleGetLayer handles GET /api/v1/jobs/:id/layers/:index.png.
func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request, jobID, name string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.State != StateCompleted {
		http.Error(w, "Job has no results yet", http.StatusNotFound)
		return
	}
	if s.cache == nil {
		http.Error(w, "Result cache not enabled", http.StatusServiceUnavailable)
		return
	}

	index, ok := parseLayerIndex(name)
	if !ok || index < 0 || index >= job.LayerCount {
		http.Error(w, "Unknown layer", http.StatusNotFound)
		return
	}

	bgra, _, _, err := imageio.LoadPNG(job.SourcePath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read source image: %v", err), http.StatusInternalServerError)
		return
	}
	contentHash := cache.HashContent(bgra)
	configHash := cache.HashConfig(cacheConfig(job.Config))

	entry, layerBufs, err := s.cache.LoadEntry(contentHash, configHash)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load layer: %v", err), http.StatusInternalServerError)
		return
	}
	if index >= len(layerBufs) {
		http.Error(w, "Unknown layer", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := imageio.EncodePNG(&buf, layerBufs[index], entry.Width, entry.Height); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode layer: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}

func parseLayerIndex(name string) (int, bool) {
	name = strings.TrimSuffix(name, ".png")
	name = strings.TrimPrefix(name, "layer-")
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return n, true
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
