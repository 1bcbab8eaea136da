package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/starford/roster/internal/models"
)

// Document implements Provider backed by one JSON file on disk.
type Document struct {
	path   string // absolute path to the document
	lock   *flock.Flock
	logger *slog.Logger

	mu sync.Mutex
}

// NewDocument creates a document store at path. The parent directory is
// created if needed; the file itself is created on first Save.
func NewDocument(path string, logger *slog.Logger) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		path:   abs,
		lock:   flock.New(abs + ".lock"),
		logger: logger,
	}, nil
}

// Path returns the absolute document path.
func (d *Document) Path() string {
	return d.path
}

// Load reads the document. A missing file yields an empty snapshot. Both the
// current object layout and a bare array of records are accepted.
func (d *Document) Load() (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.lock.RLock(); err != nil {
		return Snapshot{}, fmt.Errorf("storage: lock: %w", err)
	}
	defer d.unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{NextID: 1}, nil
		}
		return Snapshot{}, fmt.Errorf("storage: read %s: %w", d.path, err)
	}
	return decode(data)
}

// Save atomically replaces the document: tmp file → fsync → rename.
func (d *Document) Save(s Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.Records == nil {
		s.Records = []models.Record{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}

	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("storage: lock: %w", err)
	}
	defer d.unlock()

	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".roster-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

func (d *Document) unlock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("storage: unlock failed", slog.String("path", d.path), slog.String("error", err.Error()))
	}
}

func decode(data []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Snapshot{NextID: 1}, nil
	}

	var s Snapshot
	if trimmed[0] == '[' {
		var legacy []legacyRecord
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return Snapshot{}, fmt.Errorf("storage: decode: %w", err)
		}
		s.Records = make([]models.Record, 0, len(legacy))
		for _, r := range legacy {
			s.Records = append(s.Records, r.record())
		}
	} else if err := json.Unmarshal(trimmed, &s); err != nil {
		return Snapshot{}, fmt.Errorf("storage: decode: %w", err)
	}

	maxID := 0
	for _, r := range s.Records {
		maxID = max(maxID, r.ID)
	}
	if s.NextID <= maxID {
		s.NextID = maxID + 1
	}
	return s, nil
}

// legacyRecord is one element of the bare array written by the desktop
// version of the program.
type legacyRecord struct {
	ID                 int        `json:"Id"`
	Name               string     `json:"Name"`
	Class              string     `json:"Class"`
	Level              int        `json:"Level"`
	Description        string     `json:"Description"`
	ImageURL           string     `json:"ImageUrl"`
	LocalImagePath     string     `json:"LocalImagePath"`
	ImageHash          string     `json:"ImageHash"`
	CreatedDate        legacyTime `json:"CreatedDate"`
	IsImageDownloading bool       `json:"IsImageDownloading"`
}

func (r legacyRecord) record() models.Record {
	return models.Record{
		ID:             r.ID,
		Name:           r.Name,
		Category:       r.Class,
		Level:          r.Level,
		Description:    r.Description,
		ImageURL:       r.ImageURL,
		LocalImagePath: r.LocalImagePath,
		ImageHash:      r.ImageHash,
		CreatedAt:      time.Time(r.CreatedDate),
		Downloading:    r.IsImageDownloading,
	}
}

// legacyTime accepts timestamps with or without a zone offset. Zoneless
// values are read as local time.
type legacyTime time.Time

var legacyLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"}

func (t *legacyTime) UnmarshalJSON(b []byte) error {
	v := strings.Trim(string(b), `"`)
	if v == "" || v == "null" {
		return nil
	}
	for _, layout := range legacyLayouts {
		if parsed, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			*t = legacyTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("storage: bad timestamp %q", v)
}
