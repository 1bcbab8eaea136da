// Package cache owns the on-disk directory of downloaded record images.
//
// File names are derived from (record id, remote reference) only, so the
// directory itself is the index: a second lookup for the same inputs lands on
// the same path and finds the file already there.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	filePrefix = "character_"
	// Ext is applied to every cached file regardless of the source format.
	Ext = ".png"
)

var (
	imageExts      = []string{".png", ".jpg", ".jpeg"}
	unsafeNameRe   = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	cachedRecordRe = regexp.MustCompile(`^character_(\d+)_`)
)

// Store manages files directly under a single cache directory.
type Store struct {
	dir    string // absolute path to the cache directory
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory if missing.
func New(dir string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cache: resolve dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: abs, logger: logger}, nil
}

// Dir returns the absolute cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// ResolveLocalPath returns the cache path for a record's image. It is pure:
// the same inputs always produce the same path.
func (s *Store) ResolveLocalPath(recordID int, ref string) string {
	name := fmt.Sprintf("%s%d_%s%s", filePrefix, recordID, baseName(ref), Ext)
	return filepath.Join(s.dir, name)
}

// baseName extracts the last path segment of ref without its extension.
func baseName(ref string) string {
	raw := strings.TrimSpace(ref)
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	base := path.Base(strings.ReplaceAll(raw, `\`, "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = unsafeNameRe.ReplaceAllString(base, "_")
	base = strings.Trim(base, ".")
	if base == "" || base == "_" {
		return "image"
	}
	return base
}

// ParseRecordID recovers the record identity encoded in a cached file name.
func ParseRecordID(p string) (int, bool) {
	m := cachedRecordRe.FindStringSubmatch(filepath.Base(p))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// Owns reports whether p is a file directly inside the cache directory.
func (s *Store) Owns(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == s.dir
}

// Exists reports whether a regular file exists at p.
func (s *Store) Exists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Stat returns the size of the file at p.
func (s *Store) Stat(p string) (int64, bool) {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

// Remove deletes the file at p. Absence is not an error; other failures are
// logged and swallowed.
func (s *Store) Remove(p string) {
	if p == "" {
		return
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("cache: remove failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}

// Clear deletes every file directly under the cache directory. Subdirectories
// are left alone and individual failures are logged.
func (s *Store) Clear() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("cache: clear read dir failed", slog.String("dir", s.dir), slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("cache: clear remove failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

// ListEntries returns the cached image files, matched by case-sensitive
// suffix. An unreadable directory yields an empty list.
func (s *Store) ListEntries() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImageName(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(s.dir, e.Name()))
	}
	return out
}

// IsImageName reports whether name carries a recognised image extension.
func IsImageName(name string) bool {
	for _, ext := range imageExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// TotalSize sums the sizes of ListEntries. Failures count as zero.
func (s *Store) TotalSize() int64 {
	var total int64
	for _, p := range s.ListEntries() {
		if size, ok := s.Stat(p); ok {
			total += size
		}
	}
	return total
}

// Put streams body into a temp file next to p and renames it into place, so
// readers never observe a partial file under the final name.
func (s *Store) Put(ctx context.Context, p string, body io.Reader) (int64, error) {
	if !s.Owns(p) {
		return 0, fmt.Errorf("cache: path outside cache dir: %s", p)
	}

	tmp, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return 0, fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()

	written, err := copyWithContext(ctx, tmp, body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("cache: write %s: %w", filepath.Base(p), err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("cache: rename: %w", err)
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
