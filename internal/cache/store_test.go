package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "Assets", "Characters"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func writeFile(t *testing.T, p string, data string) {
	t.Helper()
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewCreatesDirIdempotently(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	for i := 0; i < 2; i++ {
		if _, err := New(dir, nil); err != nil {
			t.Fatalf("New #%d: %v", i, err)
		}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("cache dir not created: %v", err)
	}
}

func TestResolveLocalPathDeterministic(t *testing.T) {
	s := tempStore(t)
	a := s.ResolveLocalPath(1, "https://example.com/a.png")
	b := s.ResolveLocalPath(1, "https://example.com/a.png")
	if a != b {
		t.Fatalf("paths differ: %q vs %q", a, b)
	}
	if want := filepath.Join(s.Dir(), "character_1_a.png"); a != want {
		t.Errorf("path = %q, want %q", a, want)
	}
}

func TestResolveLocalPathNormalisesExtension(t *testing.T) {
	s := tempStore(t)
	cases := map[string]string{
		"https://example.com/img/hero.jpg?size=large": "character_2_hero.png",
		"https://example.com/portrait.jpeg":           "character_2_portrait.png",
		"https://example.com/":                        "character_2_image.png",
		"https://example.com/a b.gif":                 "character_2_a_b.png",
	}
	for ref, want := range cases {
		if got := filepath.Base(s.ResolveLocalPath(2, ref)); got != want {
			t.Errorf("ResolveLocalPath(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestResolveLocalPathStaysInDir(t *testing.T) {
	s := tempStore(t)
	p := s.ResolveLocalPath(3, "https://example.com/../../etc/passwd")
	if !s.Owns(p) {
		t.Errorf("path %q escaped cache dir %q", p, s.Dir())
	}
}

func TestDifferentRecordsDifferentPaths(t *testing.T) {
	s := tempStore(t)
	ref := "https://example.com/a.png"
	if s.ResolveLocalPath(1, ref) == s.ResolveLocalPath(2, ref) {
		t.Error("records sharing a URL must not share a cache file")
	}
}

func TestParseRecordID(t *testing.T) {
	s := tempStore(t)
	id, ok := ParseRecordID(s.ResolveLocalPath(42, "https://example.com/x.png"))
	if !ok || id != 42 {
		t.Errorf("ParseRecordID = %d, %v; want 42, true", id, ok)
	}
	if _, ok := ParseRecordID("random.png"); ok {
		t.Error("expected no id for foreign file")
	}
}

func TestExistsAndRemove(t *testing.T) {
	s := tempStore(t)
	p := filepath.Join(s.Dir(), "character_1_a.png")
	if s.Exists(p) {
		t.Fatal("file should not exist yet")
	}
	writeFile(t, p, "data")
	if !s.Exists(p) {
		t.Fatal("file should exist")
	}
	s.Remove(p)
	if s.Exists(p) {
		t.Error("file should be removed")
	}
	// Absent file: no panic, no error surface.
	s.Remove(p)
	s.Remove("")
}

func TestListEntriesFiltersExtensions(t *testing.T) {
	s := tempStore(t)
	writeFile(t, filepath.Join(s.Dir(), "a.png"), "1")
	writeFile(t, filepath.Join(s.Dir(), "b.jpg"), "22")
	writeFile(t, filepath.Join(s.Dir(), "c.jpeg"), "333")
	writeFile(t, filepath.Join(s.Dir(), "d.PNG"), "4444")
	writeFile(t, filepath.Join(s.Dir(), "notes.txt"), "x")
	if err := os.Mkdir(filepath.Join(s.Dir(), "sub.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries := s.ListEntries()
	if len(entries) != 3 {
		t.Fatalf("entries = %v, want 3", entries)
	}
	for _, e := range entries {
		if strings.HasSuffix(e, ".PNG") || strings.HasSuffix(e, ".txt") {
			t.Errorf("unexpected entry %q", e)
		}
	}
}

func TestTotalSizeMatchesEntries(t *testing.T) {
	s := tempStore(t)
	writeFile(t, filepath.Join(s.Dir(), "a.png"), "12345")
	writeFile(t, filepath.Join(s.Dir(), "b.jpg"), "123")

	var sum int64
	for _, p := range s.ListEntries() {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		sum += info.Size()
	}
	if got := s.TotalSize(); got != sum || got != 8 {
		t.Errorf("TotalSize = %d, sum = %d, want 8", got, sum)
	}
}

func TestTotalSizeMissingDir(t *testing.T) {
	s := tempStore(t)
	if err := os.RemoveAll(s.Dir()); err != nil {
		t.Fatal(err)
	}
	if got := s.TotalSize(); got != 0 {
		t.Errorf("TotalSize = %d, want 0", got)
	}
	if got := s.ListEntries(); len(got) != 0 {
		t.Errorf("ListEntries = %v, want empty", got)
	}
}

func TestClearRemovesFilesNotSubdirs(t *testing.T) {
	s := tempStore(t)
	writeFile(t, filepath.Join(s.Dir(), "a.png"), "1")
	writeFile(t, filepath.Join(s.Dir(), "b.txt"), "2")
	sub := filepath.Join(s.Dir(), "keep")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(sub, "inner.png"), "3")

	s.Clear()

	if got := s.ListEntries(); len(got) != 0 {
		t.Errorf("entries after clear = %v", got)
	}
	if got := s.TotalSize(); got != 0 {
		t.Errorf("TotalSize after clear = %d", got)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "b.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("non-image file should be removed too")
	}
	if _, err := os.Stat(filepath.Join(sub, "inner.png")); err != nil {
		t.Error("clear must not recurse into subdirectories")
	}
}

func TestPutAtomic(t *testing.T) {
	s := tempStore(t)
	p := s.ResolveLocalPath(1, "https://example.com/a.png")
	n, err := s.Put(context.Background(), p, strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 7 {
		t.Errorf("written = %d, want 7", n)
	}
	got, err := os.ReadFile(p)
	if err != nil || string(got) != "payload" {
		t.Fatalf("read back %q, %v", got, err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Dir(), ".cache-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestPutCancelledLeavesNothing(t *testing.T) {
	s := tempStore(t)
	p := s.ResolveLocalPath(1, "https://example.com/a.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, p, strings.NewReader("payload")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if s.Exists(p) {
		t.Error("no file should be written on failure")
	}
	matches, _ := filepath.Glob(filepath.Join(s.Dir(), ".cache-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestPutRejectsForeignPath(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Put(context.Background(), filepath.Join(t.TempDir(), "x.png"), strings.NewReader("x")); err == nil {
		t.Error("expected error for path outside cache dir")
	}
}
