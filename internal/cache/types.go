package cache

import (
	"fmt"
	"time"
)

// Config mirrors the subset of pipeline.Config that determines whether a
// cached run can be reused for a new request: two runs over the same image
// bytes with the same Config produce the same layers, so the cache keys on
// (content hash, config hash) rather than jobID. Kept as its own type;
// internal/server's cacheConfig fills it in from a pipeline.Config.
type Config struct {
	NumSegments          int     `json:"numSegments"`
	Compactness          float32 `json:"compactness"`
	SLICIterations       int     `json:"slicIterations"`
	EnforceConnectivity  bool    `json:"enforceConnectivity"`
	NumberOfClusters     int     `json:"numberOfClusters"`
	ClusterMaxIterations int     `json:"clusterMaxIterations"`
	RandomSeed           uint64  `json:"randomSeed"`
	MergeStrategy        string  `json:"mergeStrategy,omitempty"`
	MergeThreshold       float64 `json:"mergeThreshold,omitempty"`
}

// Entry is a saved decomposition result that can be served again without
// recomputation. All fields are serialized to JSON for persistence; the
// layer pixel data itself is stored alongside as sibling PNG files (see
// FSCache.layerPath), not embedded in this JSON.
type Entry struct {
	// ContentHash identifies the source image bytes (SHA-256 hex digest).
	ContentHash string `json:"contentHash"`

	// ConfigHash identifies the Config this entry was computed with
	// (SHA-256 hex digest over the JSON-canonicalized Config).
	ConfigHash string `json:"configHash"`

	// FinalClusterCount is K' — the number of nonempty layers after
	// pruning and any merge.
	FinalClusterCount int `json:"finalClusterCount"`

	// Width and Height are the source image's dimensions, needed to
	// re-encode a layer's decoded BGRA8 buffer back to PNG.
	Width  int `json:"width"`
	Height int `json:"height"`

	// PixelCounts holds the per-layer opaque pixel count, index-aligned
	// with the stored layer PNGs.
	PixelCounts []uint64 `json:"pixelCounts"`

	// Timestamp records when this entry was computed.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed to validate a cache hit
	// against a newly submitted request.
	Config Config `json:"config"`
}

// EntryInfo is the identity, cluster count and timestamp of an Entry
// (no pixel counts, dimensions or config), used for listing cache
// contents without reading every entry's detail.
type EntryInfo struct {
	ContentHash       string    `json:"contentHash"`
	ConfigHash        string    `json:"configHash"`
	FinalClusterCount int       `json:"finalClusterCount"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewEntry builds an Entry from a completed pipeline run.
func NewEntry(contentHash, configHash string, finalClusterCount, width, height int, pixelCounts []uint64, config Config) *Entry {
	return &Entry{
		ContentHash:       contentHash,
		ConfigHash:        configHash,
		FinalClusterCount: finalClusterCount,
		Width:             width,
		Height:            height,
		PixelCounts:       pixelCounts,
		Timestamp:         time.Now(),
		Config:            config,
	}
}

// ToInfo converts a full Entry to EntryInfo (metadata only).
func (e *Entry) ToInfo() EntryInfo {
	return EntryInfo{
		ContentHash:       e.ContentHash,
		ConfigHash:        e.ConfigHash,
		FinalClusterCount: e.FinalClusterCount,
		Timestamp:         e.Timestamp,
	}
}

// Validate checks that the entry has the fields a usable cache hit needs.
func (e *Entry) Validate() error {
	if e.ContentHash == "" {
		return &ValidationError{Field: "ContentHash", Reason: "cannot be empty"}
	}
	if e.ConfigHash == "" {
		return &ValidationError{Field: "ConfigHash", Reason: "cannot be empty"}
	}
	if e.FinalClusterCount <= 0 {
		return &ValidationError{Field: "FinalClusterCount", Reason: "must be positive"}
	}
	if len(e.PixelCounts) != e.FinalClusterCount {
		return &ValidationError{
			Field:  "PixelCounts",
			Reason: fmt.Sprintf("length %d != FinalClusterCount %d", len(e.PixelCounts), e.FinalClusterCount),
		}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if e.Config.NumberOfClusters <= 0 {
		return &ValidationError{Field: "Config.NumberOfClusters", Reason: "must be positive"}
	}
	return nil
}

// ValidationError represents a cache entry validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible reports whether a freshly computed configHash matches the
// one this entry was stored under — the cache-hit test. A config hash is
// exact: any parameter difference is a different cache key by
// construction, so there is nothing partial to reconcile field by field.
func (e *Entry) IsCompatible(configHash string) error {
	if e.ConfigHash != configHash {
		return &CompatibilityError{Field: "ConfigHash", Expected: e.ConfigHash, Actual: configHash}
	}
	return nil
}

// CompatibilityError represents a cache entry compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
