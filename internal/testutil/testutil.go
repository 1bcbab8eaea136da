// Package testutil provides shared test helpers for setting up cache stores,
// record documents and indexes.
package testutil

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/starford/roster/internal/cache"
	"github.com/starford/roster/internal/fetcher"
	"github.com/starford/roster/internal/fetchqueue"
	"github.com/starford/roster/internal/index"
	"github.com/starford/roster/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "roster-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a cache store in a temporary directory.
func TestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(filepath.Join(t.TempDir(), "Assets", "Characters"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestDocument creates a record document in a temporary directory.
func TestDocument(t *testing.T) *storage.Document {
	t.Helper()
	doc, err := storage.NewDocument(filepath.Join(t.TempDir(), "characters.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// MockFetcher returns a Fetcher for store whose HTTP client is backed by an
// httpmock transport.
func MockFetcher(store *cache.Store) (*fetcher.Fetcher, *httpmock.MockTransport) {
	mt := httpmock.NewMockTransport()
	return fetcher.New(store, fetcher.WithHTTPClient(&http.Client{Transport: mt})), mt
}

// InlinePool runs every submitted job synchronously in the caller's
// goroutine. It lets tests observe fetch completion without sleeping.
type InlinePool struct {
	mu     sync.Mutex
	Names  []string
	Reject error
}

// Submit runs fn immediately unless Reject is set.
func (p *InlinePool) Submit(name string, fn fetchqueue.Job) error {
	p.mu.Lock()
	if p.Reject != nil {
		p.mu.Unlock()
		return p.Reject
	}
	p.Names = append(p.Names, name)
	p.mu.Unlock()
	fn(context.Background())
	return nil
}

// HeldPool queues jobs until Run is called, so tests can interleave other
// operations with an in-flight fetch.
type HeldPool struct {
	mu   sync.Mutex
	jobs []fetchqueue.Job
}

// Submit stores fn for a later Run.
func (p *HeldPool) Submit(_ string, fn fetchqueue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, fn)
	return nil
}

// Len returns the number of jobs waiting.
func (p *HeldPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Run executes and forgets every waiting job.
func (p *HeldPool) Run() {
	p.mu.Lock()
	jobs := p.jobs
	p.jobs = nil
	p.mu.Unlock()
	for _, fn := range jobs {
		fn(context.Background())
	}
}
