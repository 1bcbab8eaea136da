// Package models defines the domain types for roster.
package models

import (
	"strings"
	"time"
)

// Unspecified is the image reference stored when the user supplied no URL.
const Unspecified = "Не вказано"

// HasImageRef reports whether ref points at something worth fetching.
func HasImageRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	return ref != "" && ref != Unspecified
}

// Record is a user-managed character with an optional cached image.
type Record struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Level          int       `json:"level"`
	Description    string    `json:"description"`
	ImageURL       string    `json:"image_url"`
	LocalImagePath string    `json:"local_image_path"`
	ImageHash      string    `json:"image_hash"`
	CreatedAt      time.Time `json:"created_at"`
	Downloading    bool      `json:"is_image_downloading"`
}

// HasLocalImage reports whether a fetch has completed for the record.
func (r Record) HasLocalImage() bool {
	return r.LocalImagePath != ""
}

// CacheEntry describes one cached image file. It mirrors what is on disk and
// can always be rebuilt from the cache directory.
type CacheEntry struct {
	Path      string    `json:"path"`
	RecordID  int       `json:"record_id"`
	SourceURL string    `json:"source_url,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	Digest    string    `json:"digest"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheInfo summarises the cache directory.
type CacheInfo struct {
	Count      int      `json:"count"`
	TotalBytes int64    `json:"total_bytes"`
	Entries    []string `json:"entries"`
}
