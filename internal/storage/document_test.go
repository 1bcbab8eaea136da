package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/roster/internal/models"
)

func tempDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := NewDocument(filepath.Join(t.TempDir(), "characters.json"), nil)
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	return doc
}

func TestLoadMissingFile(t *testing.T) {
	doc := tempDocument(t)
	s, err := doc.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Records) != 0 || s.NextID != 1 {
		t.Errorf("snapshot = %+v, want empty with next id 1", s)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	doc := tempDocument(t)
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Snapshot{
		NextID: 4,
		Records: []models.Record{
			{
				ID:             1,
				Name:           "Aria",
				Category:       "Mage",
				Level:          7,
				Description:    "fire",
				ImageURL:       "https://example.com/aria.png",
				LocalImagePath: "/cache/character_1_aria.png",
				ImageHash:      "abc",
				CreatedAt:      created,
				Downloading:    true,
			},
			{ID: 3, Name: "Bran", ImageURL: models.Unspecified, CreatedAt: created},
		},
	}
	if err := doc.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := doc.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.NextID != 4 {
		t.Errorf("next id = %d, want 4", out.NextID)
	}
	if len(out.Records) != 2 {
		t.Fatalf("len = %d, want 2", len(out.Records))
	}
	got := out.Records[0]
	want := in.Records[0]
	if got.Name != want.Name || got.Category != want.Category || got.Level != want.Level ||
		got.Description != want.Description || got.ImageURL != want.ImageURL ||
		got.LocalImagePath != want.LocalImagePath || got.ImageHash != want.ImageHash ||
		!got.CreatedAt.Equal(want.CreatedAt) || got.Downloading != want.Downloading {
		t.Errorf("record mismatch:\n got %+v\nwant %+v", got, want)
	}
	if out.Records[1].ID != 3 {
		t.Errorf("order not preserved: %+v", out.Records)
	}
}

func TestLoadLegacyArray(t *testing.T) {
	doc := tempDocument(t)
	legacy := `[
  {"Id": 2, "Name": "Old", "Class": "Mage", "Level": 3, "Description": "d",
   "ImageUrl": "https://example.com/a.png", "LocalImagePath": "Assets/Characters/character_2_a.png",
   "ImageHash": "abc", "CreatedDate": "2024-05-01T12:30:45.1234567", "IsImageDownloading": true},
  {"Id": 5, "Name": "Older", "ImageUrl": "Не вказано", "CreatedDate": "2024-05-02T08:00:00+03:00"}
]`
	if err := os.WriteFile(doc.Path(), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := doc.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Records) != 2 {
		t.Fatalf("len = %d, want 2", len(s.Records))
	}
	if s.NextID != 6 {
		t.Errorf("next id = %d, want 6", s.NextID)
	}

	r := s.Records[0]
	if r.ID != 2 || r.Name != "Old" || r.Category != "Mage" || r.Level != 3 || r.Description != "d" {
		t.Errorf("fields not mapped: %+v", r)
	}
	if r.ImageURL != "https://example.com/a.png" || r.ImageHash != "abc" || !r.Downloading {
		t.Errorf("image fields not mapped: %+v", r)
	}
	if r.LocalImagePath != "Assets/Characters/character_2_a.png" {
		t.Errorf("local path = %q", r.LocalImagePath)
	}
	want := time.Date(2024, 5, 1, 12, 30, 45, 123456700, time.Local)
	if !r.CreatedAt.Equal(want) {
		t.Errorf("created = %v, want %v", r.CreatedAt, want)
	}
	if got := s.Records[1].CreatedAt.UTC(); !got.Equal(time.Date(2024, 5, 2, 5, 0, 0, 0, time.UTC)) {
		t.Errorf("created with offset = %v", got)
	}
	if s.Records[1].ImageURL != "Не вказано" {
		t.Errorf("sentinel not kept: %q", s.Records[1].ImageURL)
	}
}

func TestLoadLegacyBadTimestamp(t *testing.T) {
	doc := tempDocument(t)
	if err := os.WriteFile(doc.Path(), []byte(`[{"Id": 1, "CreatedDate": "yesterday"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Load(); err == nil {
		t.Error("expected decode error")
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	doc := tempDocument(t)
	if err := os.WriteFile(doc.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Load(); err == nil {
		t.Error("expected decode error")
	}
}

func TestNextIDNeverBelowMax(t *testing.T) {
	doc := tempDocument(t)
	if err := doc.Save(Snapshot{NextID: 1, Records: []models.Record{{ID: 9}}}); err != nil {
		t.Fatal(err)
	}
	s, err := doc.Load()
	if err != nil {
		t.Fatal(err)
	}
	if s.NextID != 10 {
		t.Errorf("next id = %d, want 10", s.NextID)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	doc := tempDocument(t)
	for i := 0; i < 3; i++ {
		if err := doc.Save(Snapshot{NextID: i + 1}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(doc.Path()), ".roster-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}
