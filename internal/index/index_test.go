package index

import (
	"os"
	"testing"
	"time"

	"github.com/starford/roster/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "roster-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM cache_entries`).Scan(&count); err != nil {
		t.Fatalf("cache_entries table missing: %v", err)
	}
}

func TestUpsertAndGetEntry(t *testing.T) {
	db := testDB(t)
	e := models.CacheEntry{
		Path:      "/cache/character_1_a.png",
		RecordID:  1,
		SourceURL: "https://example.com/a.png",
		SizeBytes: 42,
		Digest:    "abc123",
		UpdatedAt: time.Now().UTC(),
	}
	if err := db.UpsertEntry(e); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	got, err := db.GetEntry(e.Path)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got == nil {
		t.Fatal("entry not found")
	}
	if got.RecordID != 1 || got.SizeBytes != 42 || got.Digest != "abc123" || got.SourceURL != e.SourceURL {
		t.Errorf("entry = %+v", got)
	}
}

func TestUpsertKeepsKnownSourceURL(t *testing.T) {
	db := testDB(t)
	p := "/cache/character_2_b.png"
	_ = db.UpsertEntry(models.CacheEntry{Path: p, RecordID: 2, SourceURL: "https://example.com/b.png", SizeBytes: 1})
	if err := db.UpsertEntry(models.CacheEntry{Path: p, RecordID: 2, SizeBytes: 9, Digest: "d"}); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetEntry(p)
	if got.SourceURL != "https://example.com/b.png" {
		t.Errorf("source url = %q, want preserved", got.SourceURL)
	}
	if got.SizeBytes != 9 {
		t.Errorf("size = %d, want 9", got.SizeBytes)
	}
}

func TestGetEntryMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetEntry("nope.png")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got != nil {
		t.Errorf("entry = %+v, want nil", got)
	}
}

func TestDeleteEntryAndTotals(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(models.CacheEntry{Path: "a.png", RecordID: 1, SizeBytes: 10})
	_ = db.UpsertEntry(models.CacheEntry{Path: "b.png", RecordID: 2, SizeBytes: 5})

	count, size, err := db.Totals()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || size != 15 {
		t.Errorf("totals = %d, %d; want 2, 15", count, size)
	}

	if err := db.DeleteEntry("a.png"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	// Deleting a missing row is not an error.
	if err := db.DeleteEntry("a.png"); err != nil {
		t.Fatalf("DeleteEntry again: %v", err)
	}
	count, size, _ = db.Totals()
	if count != 1 || size != 5 {
		t.Errorf("totals after delete = %d, %d; want 1, 5", count, size)
	}
}

func TestListEntriesOrdered(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(models.CacheEntry{Path: "c.png", RecordID: 3})
	_ = db.UpsertEntry(models.CacheEntry{Path: "a.png", RecordID: 1})
	_ = db.UpsertEntry(models.CacheEntry{Path: "b.png", RecordID: 2})

	entries, err := db.ListEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, want := range []int{1, 2, 3} {
		if entries[i].RecordID != want {
			t.Errorf("entries[%d].RecordID = %d, want %d", i, entries[i].RecordID, want)
		}
	}
}

func TestDeleteAll(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(models.CacheEntry{Path: "a.png"})
	_ = db.UpsertEntry(models.CacheEntry{Path: "b.png"})
	if err := db.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	entries, _ := db.ListEntries()
	if len(entries) != 0 {
		t.Errorf("entries = %v, want none", entries)
	}
}

func modelsEntry(p string) models.CacheEntry {
	return models.CacheEntry{Path: p, SizeBytes: 1}
}
