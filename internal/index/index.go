package index

import "github.com/starford/roster/internal/models"

// EntryIndex defines the cache-entry index operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type EntryIndex interface {
	UpsertEntry(e models.CacheEntry) error
	DeleteEntry(path string) error
	DeleteAll() error
	GetEntry(path string) (*models.CacheEntry, error)
	ListEntries() ([]models.CacheEntry, error)
	Totals() (count int, bytes int64, err error)
	AllSizes() (map[string]int64, error)
	Close() error
}

// Verify *DB satisfies EntryIndex at compile time.
var _ EntryIndex = (*DB)(nil)
