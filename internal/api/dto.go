package api

import (
	"github.com/starford/roster/internal/models"
	"github.com/starford/roster/internal/recordservice"
)

// CreateRecordRequest is the request body for creating a record.
type CreateRecordRequest = recordservice.Input

// UpdateRecordRequest is the request body for patching a record.
type UpdateRecordRequest = recordservice.Patch

// Record is the record response type (aliased from the domain layer).
type Record = models.Record

// RecordListResponse wraps record listings.
type RecordListResponse struct {
	Records []Record `json:"records" validate:"required"`
	Total   int      `json:"total" example:"2" validate:"required"`
}

// StaleResponse reports whether a cached image differs from its source.
type StaleResponse struct {
	ID    int  `json:"id" example:"1" validate:"required"`
	Stale bool `json:"stale" example:"false"`
}

// CacheInfoResponse summarises the cache directory.
type CacheInfoResponse = models.CacheInfo

// CacheEntriesResponse wraps the cache-entry index listing.
type CacheEntriesResponse struct {
	Entries []models.CacheEntry `json:"entries" validate:"required"`
}
