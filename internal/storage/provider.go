// Package storage persists the record set as a single JSON document.
package storage

import "github.com/starford/roster/internal/models"

// Snapshot is the full persisted state: every record plus the identity
// high-water mark so deleted identities are never handed out again.
type Snapshot struct {
	NextID  int             `json:"next_id"`
	Records []models.Record `json:"records"`
}

// Provider loads and saves full snapshots. Every Save overwrites the whole
// document.
type Provider interface {
	Load() (Snapshot, error)
	Save(s Snapshot) error
}
