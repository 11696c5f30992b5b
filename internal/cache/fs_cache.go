package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cwbudde/iconlayers/internal/imageio"
)

// FSCache implements Cache using filesystem-based persistence. Entries are
// stored in a directory structure: <baseDir>/runs/<contentHash>/<configHash>/
//
// Thread-safety: this implementation uses atomic file operations (rename)
// and does not require locks. Multiple goroutines can safely call methods
// concurrently.
type FSCache struct {
	baseDir string
}

// NewFSCache creates a new filesystem-based cache. baseDir is created if
// it doesn't exist.
func NewFSCache(baseDir string) (*FSCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSCache{baseDir: baseDir}, nil
}

func (fc *FSCache) entryDir(contentHash, configHash string) string {
	return filepath.Join(fc.baseDir, "runs", contentHash, configHash)
}

func (fc *FSCache) entryPath(contentHash, configHash string) string {
	return filepath.Join(fc.entryDir(contentHash, configHash), "entry.json")
}

func (fc *FSCache) layerPath(contentHash, configHash string, index int) string {
	return filepath.Join(fc.entryDir(contentHash, configHash), fmt.Sprintf("layer-%03d.png", index))
}

// SaveEntry atomically saves entry.json and one PNG per layer. Uses
// temp file + rename for entry.json so a concurrent LoadEntry never
// observes a partially-written metadata file.
func (fc *FSCache) SaveEntry(contentHash, configHash string, entry *Entry, layers [][]byte, width, height int) error {
	if contentHash == "" || configHash == "" {
		return fmt.Errorf("contentHash and configHash cannot be empty")
	}
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	dir := fc.entryDir(contentHash, configHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create entry directory: %w", err)
	}

	for i, layer := range layers {
		if err := imageio.SavePNG(fc.layerPath(contentHash, configHash, i), layer, width, height); err != nil {
			return fmt.Errorf("failed to write layer %d: %w", i, err)
		}
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}

	tempPath := fc.entryPath(contentHash, configHash) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp entry file: %w", err)
	}

	finalPath := fc.entryPath(contentHash, configHash)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename entry file: %w", err)
	}

	slog.Debug("cache entry saved", "contentHash", contentHash, "configHash", configHash, "path", finalPath)
	return nil
}

// LoadEntry retrieves the entry metadata and decoded layer BGRA8 buffers
// for the given key.
func (fc *FSCache) LoadEntry(contentHash, configHash string) (*Entry, [][]byte, error) {
	if contentHash == "" || configHash == "" {
		return nil, nil, fmt.Errorf("contentHash and configHash cannot be empty")
	}

	path := fc.entryPath(contentHash, configHash)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, &NotFoundError{Key: contentHash + "/" + configHash}
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to stat entry file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read entry file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, nil, fmt.Errorf("failed to deserialize entry: %w", err)
	}

	layers := make([][]byte, entry.FinalClusterCount)
	for i := range layers {
		bgra, _, _, err := imageio.LoadPNG(fc.layerPath(contentHash, configHash, i))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load layer %d: %w", i, err)
		}
		layers[i] = bgra
	}

	slog.Debug("cache entry loaded", "contentHash", contentHash, "configHash", configHash, "path", path)
	return &entry, layers, nil
}

// ListEntries returns metadata for all cached entries, scanning
// <baseDir>/runs/*/*/entry.json.
func (fc *FSCache) ListEntries() ([]EntryInfo, error) {
	runsDir := filepath.Join(fc.baseDir, "runs")

	if _, err := os.Stat(runsDir); os.IsNotExist(err) {
		return []EntryInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat runs directory: %w", err)
	}

	contentEntries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var infos []EntryInfo
	for _, contentEntry := range contentEntries {
		if !contentEntry.IsDir() {
			continue
		}
		contentHash := contentEntry.Name()
		configDirs, err := os.ReadDir(filepath.Join(runsDir, contentHash))
		if err != nil {
			slog.Warn("failed to read content hash directory", "contentHash", contentHash, "error", err)
			continue
		}
		for _, configDir := range configDirs {
			if !configDir.IsDir() {
				continue
			}
			configHash := configDir.Name()
			entry, _, err := fc.loadEntryOnly(contentHash, configHash)
			if err != nil {
				slog.Warn("failed to load entry for listing", "contentHash", contentHash, "configHash", configHash, "error", err)
				continue
			}
			infos = append(infos, entry.ToInfo())
		}
	}

	slog.Debug("listed cache entries", "count", len(infos))
	return infos, nil
}

// loadEntryOnly reads entry.json without decoding layer PNGs, for listing.
func (fc *FSCache) loadEntryOnly(contentHash, configHash string) (*Entry, bool, error) {
	path := fc.entryPath(contentHash, configHash)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, &NotFoundError{Key: contentHash + "/" + configHash}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read entry file: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to deserialize entry: %w", err)
	}
	return &entry, true, nil
}

// DeleteEntry removes the entry and all associated layer PNGs for the
// given key.
func (fc *FSCache) DeleteEntry(contentHash, configHash string) error {
	if contentHash == "" || configHash == "" {
		return fmt.Errorf("contentHash and configHash cannot be empty")
	}

	dir := fc.entryDir(contentHash, configHash)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{Key: contentHash + "/" + configHash}
	} else if err != nil {
		return fmt.Errorf("failed to stat entry directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove entry directory: %w", err)
	}

	slog.Debug("cache entry deleted", "contentHash", contentHash, "configHash", configHash, "path", dir)
	return nil
}
