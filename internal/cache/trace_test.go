package cache

import (
	"io"
	"testing"
	"time"
)

func TestTraceWriteAndReadAllRoundTrips(t *testing.T) {
	tempDir := t.TempDir()
	w, err := NewTraceWriter(tempDir, "content", "config")
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}

	events := []StageEvent{
		{Stage: "color-converter", OutputType: "lab", Duration: time.Millisecond, Timestamp: time.Now()},
		{Stage: "superpixels", OutputType: "superpixels", Duration: 2 * time.Millisecond, Timestamp: time.Now()},
	}
	for _, e := range events {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewTraceReader(tempDir, "content", "config")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].Stage != events[i].Stage {
			t.Errorf("event %d stage = %q, want %q", i, got[i].Stage, events[i].Stage)
		}
	}
}

func TestTraceReaderReturnsEOFWhenExhausted(t *testing.T) {
	tempDir := t.TempDir()
	w, err := NewTraceWriter(tempDir, "content", "config")
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	if err := w.Write(StageEvent{Stage: "only", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := NewTraceReader(tempDir, "content", "config")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Read(); err != nil {
		t.Fatalf("expected one event, got error: %v", err)
	}
	if _, err := r.Read(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestNewTraceReaderMissingFileReturnsNotFound(t *testing.T) {
	tempDir := t.TempDir()
	_, err := NewTraceReader(tempDir, "nope", "nope")
	if err == nil {
		t.Fatal("expected error for missing trace file")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
}

func TestDeleteTraceRemovesFile(t *testing.T) {
	tempDir := t.TempDir()
	w, err := NewTraceWriter(tempDir, "content", "config")
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	w.Close()

	if err := DeleteTrace(tempDir, "content", "config"); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}
	if _, err := NewTraceReader(tempDir, "content", "config"); err == nil {
		t.Fatal("expected trace file to be gone")
	}
}
