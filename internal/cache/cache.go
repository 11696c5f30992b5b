// Package cache stores finished decomposition runs keyed by
// (content hash, config hash), so submitting the same image with the same
// pipeline.Config again is a lookup instead of a recompute, the same
// "persist a finished unit of work, look it up again later" role a
// checkpoint store serves for mid-run optimizer state.
package cache

// Cache defines the interface for decomposition result persistence.
// Implementations must be thread-safe and handle concurrent access
// gracefully.
type Cache interface {
	// SaveEntry atomically saves a cache entry plus its layer PNGs under
	// key = contentHash+"/"+configHash. If an entry already exists for
	// that key, it is overwritten.
	SaveEntry(contentHash, configHash string, entry *Entry, layers [][]byte, width, height int) error

	// LoadEntry retrieves the entry and its layers, decoded back to BGRA8
	// buffers, for the given key.
	// Returns ErrNotFound if no entry exists for that key.
	LoadEntry(contentHash, configHash string) (*Entry, [][]byte, error)

	// ListEntries returns metadata for all cached entries.
	ListEntries() ([]EntryInfo, error)

	// DeleteEntry removes the entry and all associated layer PNGs for the
	// given key. Returns ErrNotFound if no entry exists for that key.
	DeleteEntry(contentHash, configHash string) error
}

// ErrNotFound is returned when a requested cache entry does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing cache entry error.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return "cache entry not found: " + e.Key
	}
	return "cache entry not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
