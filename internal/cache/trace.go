package cache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StageEvent represents a single stage-completion record in a run's
// progress trace. Each event is serialized as a JSON line in
// stages.jsonl, one line per pipeline.Stage completion rather than per
// optimizer iteration, since a segmentation run has a handful of stages
// rather than thousands of iterations.
type StageEvent struct {
	// Stage is the pipeline.Stage.Name() that completed.
	Stage string `json:"stage"`

	// OutputType is the stage's declared output type ("lab",
	// "superpixels", "clusters", "layers"), for a progress UI to render
	// without importing the pipeline package.
	OutputType string `json:"outputType"`

	// Duration is how long the stage took to execute.
	Duration time.Duration `json:"durationNs"`

	// Timestamp records when the stage finished.
	Timestamp time.Time `json:"timestamp"`
}

// TraceWriter writes stage events to a JSONL file, buffered and safe for
// concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter creates a trace writer for the given cache key. The
// trace file is created at <baseDir>/runs/<contentHash>/<configHash>/stages.jsonl.
func NewTraceWriter(baseDir, contentHash, configHash string) (*TraceWriter, error) {
	dir := filepath.Join(baseDir, "runs", contentHash, configHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create entry directory: %w", err)
	}

	path := filepath.Join(dir, "stages.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends a stage event to the file.
func (tw *TraceWriter) Write(event StageEvent) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stage event: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write stage event: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes any buffered data to the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	return tw.file.Close()
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string { return tw.path }

// TraceReader reads stage events from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace file for the given cache key.
func NewTraceReader(baseDir, contentHash, configHash string) (*TraceReader, error) {
	path := filepath.Join(baseDir, "runs", contentHash, configHash, "stages.jsonl")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Key: contentHash + "/" + configHash}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read reads the next stage event. Returns io.EOF when exhausted.
func (tr *TraceReader) Read() (*StageEvent, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var event StageEvent
	if err := json.Unmarshal(tr.scanner.Bytes(), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage event: %w", err)
	}
	return &event, nil
}

// ReadAll reads all stage events from the file.
func (tr *TraceReader) ReadAll() ([]StageEvent, error) {
	var events []StageEvent
	for {
		event, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes the trace file for the given cache key. Returns nil
// if the file doesn't exist.
func DeleteTrace(baseDir, contentHash, configHash string) error {
	path := filepath.Join(baseDir, "runs", contentHash, configHash, "stages.jsonl")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
