package index

import (
	"log/slog"

	"github.com/starford/roster/internal/cache"
	"github.com/starford/roster/internal/checksum"
	"github.com/starford/roster/internal/models"
)

// Sync walks the cache directory and brings the index up to date:
//   - new files, and files whose size changed, are hashed and upserted
//   - rows whose file is gone are deleted
func Sync(db EntryIndex, store *cache.Store, logger *slog.Logger) error {
	sizes, err := db.AllSizes()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{})
	for _, p := range store.ListEntries() {
		disk[p] = struct{}{}

		size, ok := store.Stat(p)
		if !ok {
			continue
		}
		if known, indexed := sizes[p]; indexed && known == size {
			continue
		}
		if err := indexFile(db, store, p); err != nil {
			logger.Warn("sync: index failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", p))
		}
	}

	// Remove stale entries.
	for p := range sizes {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteEntry(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// indexFile hashes the cached file at p and upserts its row.
func indexFile(db EntryIndex, store *cache.Store, p string) error {
	size, ok := store.Stat(p)
	if !ok {
		return db.DeleteEntry(p)
	}
	id, _ := cache.ParseRecordID(p)
	return db.UpsertEntry(models.CacheEntry{
		Path:      p,
		RecordID:  id,
		SizeBytes: size,
		Digest:    checksum.File(p),
	})
}
