package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestCache(t *testing.T) (*FSCache, string) {
	t.Helper()
	tempDir := t.TempDir()
	c, err := NewFSCache(tempDir)
	if err != nil {
		t.Fatalf("NewFSCache failed: %v", err)
	}
	return c, tempDir
}

func testEntry() *Entry {
	return &Entry{
		ContentHash:       "abc123",
		ConfigHash:        "def456",
		FinalClusterCount: 2,
		Width:             4,
		Height:            4,
		PixelCounts:       []uint64{10, 20},
		Timestamp:         time.Now(),
		Config: Config{
			NumSegments:      100,
			NumberOfClusters: 2,
			RandomSeed:       1,
		},
	}
}

func testLayers(w, h int) [][]byte {
	a := make([]byte, w*h*4)
	b := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		off := i * 4
		a[off+3] = 255
		b[off+3] = 255
	}
	return [][]byte{a, b}
}

func TestNewFSCacheCreatesBaseDir(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "dir")
	if _, err := NewFSCache(tempDir); err != nil {
		t.Fatalf("NewFSCache failed: %v", err)
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("base directory was not created")
	}
}

func TestSaveEntryWritesMetadataAndLayers(t *testing.T) {
	c, tempDir := setupTestCache(t)
	entry := testEntry()
	layers := testLayers(4, 4)

	if err := c.SaveEntry(entry.ContentHash, entry.ConfigHash, entry, layers, 4, 4); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}

	metaPath := filepath.Join(tempDir, "runs", entry.ContentHash, entry.ConfigHash, "entry.json")
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		t.Fatalf("entry.json was not created at %s", metaPath)
	}
	if _, err := os.Stat(metaPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after save")
	}
	for i := range layers {
		layerPath := filepath.Join(tempDir, "runs", entry.ContentHash, entry.ConfigHash, fmt.Sprintf("layer-%03d.png", i))
		if _, err := os.Stat(layerPath); os.IsNotExist(err) {
			t.Fatalf("layer file %d was not created at %s", i, layerPath)
		}
	}
}

func TestSaveEntryRejectsEmptyKeys(t *testing.T) {
	c, _ := setupTestCache(t)
	err := c.SaveEntry("", "def", testEntry(), nil, 0, 0)
	if err == nil {
		t.Fatal("expected error for empty contentHash")
	}
}

func TestLoadEntryRoundTrips(t *testing.T) {
	c, _ := setupTestCache(t)
	entry := testEntry()
	layers := testLayers(4, 4)

	if err := c.SaveEntry(entry.ContentHash, entry.ConfigHash, entry, layers, 4, 4); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}

	loaded, loadedLayers, err := c.LoadEntry(entry.ContentHash, entry.ConfigHash)
	if err != nil {
		t.Fatalf("LoadEntry failed: %v", err)
	}
	if loaded.FinalClusterCount != entry.FinalClusterCount {
		t.Errorf("FinalClusterCount = %d, want %d", loaded.FinalClusterCount, entry.FinalClusterCount)
	}
	if len(loadedLayers) != len(layers) {
		t.Fatalf("got %d layers, want %d", len(loadedLayers), len(layers))
	}
}

func TestLoadEntryMissingReturnsNotFound(t *testing.T) {
	c, _ := setupTestCache(t)
	_, _, err := c.LoadEntry("nope", "nope")
	if err == nil {
		t.Fatal("expected NotFoundError")
	}
	if _, ok := err.(*NotFoundError); !ok {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
}

func TestListEntriesReturnsAllSaved(t *testing.T) {
	c, _ := setupTestCache(t)
	e1 := testEntry()
	e2 := testEntry()
	e2.ConfigHash = "other-config"

	if err := c.SaveEntry(e1.ContentHash, e1.ConfigHash, e1, testLayers(2, 2), 2, 2); err != nil {
		t.Fatalf("SaveEntry 1 failed: %v", err)
	}
	if err := c.SaveEntry(e2.ContentHash, e2.ConfigHash, e2, testLayers(2, 2), 2, 2); err != nil {
		t.Fatalf("SaveEntry 2 failed: %v", err)
	}

	infos, err := c.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
}

func TestListEntriesEmptyCacheReturnsEmptySlice(t *testing.T) {
	c, _ := setupTestCache(t)
	infos, err := c.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected 0 entries, got %d", len(infos))
	}
}

func TestDeleteEntryRemovesDirectory(t *testing.T) {
	c, tempDir := setupTestCache(t)
	entry := testEntry()
	if err := c.SaveEntry(entry.ContentHash, entry.ConfigHash, entry, testLayers(2, 2), 2, 2); err != nil {
		t.Fatalf("SaveEntry failed: %v", err)
	}

	if err := c.DeleteEntry(entry.ContentHash, entry.ConfigHash); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	dir := filepath.Join(tempDir, "runs", entry.ContentHash, entry.ConfigHash)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("entry directory should have been removed")
	}
}

func TestDeleteEntryMissingReturnsNotFound(t *testing.T) {
	c, _ := setupTestCache(t)
	err := c.DeleteEntry("nope", "nope")
	if err == nil {
		t.Fatal("expected NotFoundError")
	}
}
