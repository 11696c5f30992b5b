package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/iconlayers/internal/cache"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

func createSimpleTestImage(t *testing.T, path string) {
	t.Helper()
	const n = 16
	img := image.NewNRGBA(image.Rect(0, 0, n, n))
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	red := color.NRGBA{R: 255, A: 255}

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			img.Set(x, y, white)
		}
	}
	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			img.Set(x, y, red)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
}

func smallConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.NumSegments = 64
	cfg.SLICIterations = 2
	cfg.NumberOfClusters = 2
	cfg.ClusterMaxIterations = 20
	cfg.RandomSeed = 42
	return cfg
}

func containsString(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || bytes.Contains([]byte(haystack), []byte(needle)))
}

func TestServer_CreateJob(t *testing.T) {
	tmpDir := t.TempDir()
	imgPath := filepath.Join(tmpDir, "test.png")
	createSimpleTestImage(t, imgPath)

	s := NewServer(":0", nil)

	reqBody, _ := json.Marshal(createJobRequest{SourcePath: imgPath, Config: smallConfig()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("expected job ID to be set")
	}
	if job.SourcePath != imgPath {
		t.Errorf("expected sourcePath %s, got %s", imgPath, job.SourcePath)
	}
}

func TestServer_CreateJob_MissingSourcePath(t *testing.T) {
	s := NewServer(":0", nil)

	reqBody, _ := json.Marshal(createJobRequest{Config: smallConfig()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":0", nil)
	s.jobManager.CreateJob("a.png", smallConfig())
	s.jobManager.CreateJob("b.png", smallConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":0", nil)
	job := s.jobManager.CreateJob("a.png", smallConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	w := httptest.NewRecorder()
	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status["id"] != job.ID {
		t.Errorf("expected id %s, got %v", job.ID, status["id"])
	}
	if status["currentStage"] == nil {
		t.Error("expected currentStage field in response")
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()
	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServer_ListLayers_NotCompleted(t *testing.T) {
	s := NewServer(":0", nil)
	job := s.jobManager.CreateJob("a.png", smallConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/layers", nil)
	w := httptest.NewRecorder()
	s.handleListLayers(w, req, job.ID)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a job with no results yet, got %d", w.Code)
	}
}

func TestServer_Integration_CreateAndListLayers(t *testing.T) {
	tmpDir := t.TempDir()
	imgPath := filepath.Join(tmpDir, "test.png")
	createSimpleTestImage(t, imgPath)

	imgCache, err := cache.NewFSCache(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("NewFSCache: %v", err)
	}

	s := NewServer(":0", imgCache)

	reqBody, _ := json.Marshal(createJobRequest{SourcePath: imgPath, Config: smallConfig()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(reqBody))
	w := httptest.NewRecorder()
	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode create response: %v", err)
	}

	// handleCreateJob starts runJob in a background goroutine; run it
	// synchronously here instead so the rest of the test doesn't race it.
	if err := runJob(context.Background(), s.jobManager, s.cache, job.ID); err != nil {
		t.Fatalf("runJob: %v", err)
	}

	statusReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	statusW := httptest.NewRecorder()
	s.handleGetJobStatus(statusW, statusReq, job.ID)
	if statusW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusW.Code)
	}

	layersReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/layers", nil)
	layersW := httptest.NewRecorder()
	s.handleListLayers(layersW, layersReq, job.ID)
	if layersW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", layersW.Code, layersW.Body.String())
	}

	var layersResp struct {
		LayerCount int      `json:"layerCount"`
		Layers     []string `json:"layers"`
	}
	if err := json.NewDecoder(layersW.Body).Decode(&layersResp); err != nil {
		t.Fatalf("failed to decode layers response: %v", err)
	}
	if layersResp.LayerCount == 0 || len(layersResp.Layers) != layersResp.LayerCount {
		t.Fatalf("unexpected layers response: %+v", layersResp)
	}

	layerReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/layers/"+layersResp.Layers[0], nil)
	layerW := httptest.NewRecorder()
	s.handleGetLayer(layerW, layerReq, job.ID, layersResp.Layers[0])
	if layerW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", layerW.Code, layerW.Body.String())
	}
	if layerW.Header().Get("Content-Type") != "image/png" {
		t.Errorf("expected image/png content type, got %s", layerW.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(layerW.Body.Bytes())); err != nil {
		t.Errorf("layer response is not a valid PNG: %v", err)
	}
}

func TestServer_GetLayer_UnknownIndex(t *testing.T) {
	tmpDir := t.TempDir()
	imgPath := filepath.Join(tmpDir, "test.png")
	createSimpleTestImage(t, imgPath)

	imgCache, err := cache.NewFSCache(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("NewFSCache: %v", err)
	}
	s := NewServer(":0", imgCache)

	job := s.jobManager.CreateJob(imgPath, smallConfig())
	if err := runJob(context.Background(), s.jobManager, s.cache, job.ID); err != nil {
		t.Fatalf("runJob: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/layers/layer-099.png", nil)
	w := httptest.NewRecorder()
	s.handleGetLayer(w, req, job.ID, "layer-099.png")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for out-of-range layer index, got %d", w.Code)
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	tmpDir := t.TempDir()
	imgPath := filepath.Join(tmpDir, "test.png")
	createSimpleTestImage(t, imgPath)

	imgCache, err := cache.NewFSCache(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("NewFSCache: %v", err)
	}
	s := NewServer(":0", imgCache)

	job := s.jobManager.CreateJob(imgPath, smallConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go runJob(ctx, s.jobManager, s.cache, job.ID)

	time.Sleep(100 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", job.ID), nil)
	w := httptest.NewRecorder()

	done := make(chan bool)
	go func() {
		s.handleJobStream(w, req, job.ID)
		done <- true
	}()

	timeout := time.After(3 * time.Second)
	select {
	case <-done:
	case <-timeout:
	}

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("expected text/event-stream content type")
	}
	body := w.Body.String()
	if !containsString(body, "data:") {
		t.Error("expected SSE data in response")
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	event := ProgressEvent{
		JobID:             "job1",
		State:             StateRunning,
		Stage:             "superpixels",
		FinalClusterCount: 0,
		LayerCount:        0,
		Timestamp:         time.Now(),
	}
	eb.Broadcast(event)

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("expected jobID job1, got %s", received.JobID)
		}
		if received.Stage != "superpixels" {
			t.Errorf("expected stage superpixels, got %s", received.Stage)
		}
	case <-time.After(1 * time.Second):
		t.Error("timeout waiting for event")
	}
}

func TestEventBroadcaster_CleanupJob(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job1")

	eb.CleanupJob("job1")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after CleanupJob")
		}
	case <-time.After(1 * time.Second):
		t.Error("timeout waiting for channel close")
	}
}
