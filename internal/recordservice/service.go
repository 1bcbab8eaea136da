// Package recordservice coordinates the record set, its persisted document
// and the image cache. It is the only writer of the record set.
package recordservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/roster/internal/apperr"
	"github.com/starford/roster/internal/cache"
	"github.com/starford/roster/internal/fetcher"
	"github.com/starford/roster/internal/fetchqueue"
	"github.com/starford/roster/internal/index"
	"github.com/starford/roster/internal/models"
	"github.com/starford/roster/internal/storage"
)

// Event kinds passed to the Notifier.
const (
	EventRecordCreated = "record.created"
	EventRecordUpdated = "record.updated"
	EventRecordDeleted = "record.deleted"
	EventCacheCleared  = "cache.cleared"
)

// Fetcher is the subset of *fetcher.Fetcher the service needs.
type Fetcher interface {
	Fetch(ctx context.Context, ref string, recordID int) fetcher.Result
	IsStale(ctx context.Context, ref, localPath string) bool
	Digest(path string) string
}

// Submitter runs jobs in the background. *fetchqueue.Pool satisfies it.
type Submitter interface {
	Submit(name string, fn fetchqueue.Job) error
}

// Notifier receives change events. id is 0 for cache-wide events.
type Notifier interface {
	PublishRecordEvent(kind string, id int)
}

// Input carries the user-supplied fields of a new record.
type Input struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Level       int    `json:"level"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// Validate checks the input fields.
func (in Input) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Category, validation.Length(0, 100)),
		validation.Field(&in.Level, validation.Min(0)),
	)
}

// Patch lists the fields to change on an existing record. Nil fields are
// left alone.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Category    *string `json:"category,omitempty"`
	Level       *int    `json:"level,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithIndex keeps the cache-entry index in step with completed fetches.
func WithIndex(idx index.EntryIndex) Option {
	return func(s *Service) { s.index = idx }
}

// WithNotifier sets the change event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetryMissing makes Load schedule fetches for records that have an
// image reference but no cached file.
func WithRetryMissing(enabled bool) Option {
	return func(s *Service) { s.retryMissing = enabled }
}

// Service owns the in-memory record set. A single mutex guards every
// read-modify-write of the set together with the document save; network
// I/O always happens outside it.
type Service struct {
	doc          storage.Provider
	store        *cache.Store
	fetcher      Fetcher
	pool         Submitter
	index        index.EntryIndex
	notifier     Notifier
	logger       *slog.Logger
	retryMissing bool
	now          func() time.Time

	mu      sync.Mutex
	records []models.Record
	nextID  int
	gens    map[int]uint64 // record id -> generation of its current fetch
	genSeq  uint64
}

// fetchJob identifies one scheduled fetch. A completion is applied only when
// gen is still the record's current generation.
type fetchJob struct {
	id  int
	ref string
	gen uint64
}

// NewService creates a new record service with an empty record set. Call
// Load to populate it from the document.
func NewService(doc storage.Provider, store *cache.Store, f Fetcher, pool Submitter, opts ...Option) *Service {
	s := &Service{
		doc:     doc,
		store:   store,
		fetcher: f,
		pool:    pool,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		records: []models.Record{},
		nextID:  1,
		gens:    make(map[int]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory set with the persisted document. A missing or
// corrupt document yields an empty set. Downloading flags are reset and,
// when enabled, fetches are scheduled for records still lacking an image.
func (s *Service) Load(_ context.Context) {
	snap, err := s.doc.Load()
	if err != nil {
		s.logger.Warn("records: load failed, starting empty", slog.String("error", err.Error()))
		snap = storage.Snapshot{NextID: 1}
	}

	s.mu.Lock()
	s.records = snap.Records
	if s.records == nil {
		s.records = []models.Record{}
	}
	s.nextID = max(snap.NextID, 1)
	s.gens = make(map[int]uint64)

	var pending []fetchJob
	for i := range s.records {
		r := &s.records[i]
		r.Downloading = false
		if r.HasLocalImage() && !s.store.Exists(r.LocalImagePath) {
			s.logger.Info("records: cached image vanished",
				slog.Int("id", r.ID),
				slog.String("path", r.LocalImagePath))
			r.LocalImagePath = ""
			r.ImageHash = ""
		}
		if s.retryMissing && !r.HasLocalImage() && models.HasImageRef(r.ImageURL) {
			pending = append(pending, s.prepareFetchLocked(i))
		}
	}
	count := len(s.records)
	s.mu.Unlock()

	s.logger.Info("records: loaded", slog.Int("count", count), slog.Int("pending_fetches", len(pending)))
	for _, j := range pending {
		s.submit(j)
	}
}

// Add validates in, appends a new record, saves the document and schedules
// the image fetch. It returns without waiting for any network I/O.
func (s *Service) Add(_ context.Context, in Input) (models.Record, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return models.Record{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	ref := strings.TrimSpace(in.ImageURL)
	if ref == "" {
		ref = models.Unspecified
	}

	s.mu.Lock()
	rec := models.Record{
		ID:          s.nextID,
		Name:        in.Name,
		Category:    in.Category,
		Level:       in.Level,
		Description: in.Description,
		ImageURL:    ref,
		CreatedAt:   s.now(),
	}
	s.nextID++
	s.records = append(s.records, rec)
	i := len(s.records) - 1

	var job *fetchJob
	if models.HasImageRef(ref) {
		j := s.prepareFetchLocked(i)
		job = &j
	}
	if err := s.saveLocked(); err != nil {
		s.records = s.records[:i]
		delete(s.gens, rec.ID)
		s.mu.Unlock()
		return models.Record{}, err
	}
	rec = s.records[i]
	s.mu.Unlock()

	s.logger.Info("records: added", slog.Int("id", rec.ID), slog.String("name", rec.Name))
	s.notify(EventRecordCreated, rec.ID)
	if job != nil {
		s.submit(*job)
	}
	return rec, nil
}

// List returns a copy of every record in insertion order.
func (s *Service) List(_ context.Context) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with the given id.
func (s *Service) Get(_ context.Context, id int) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOfLocked(id)
	if i < 0 {
		return models.Record{}, apperr.ErrNotFound
	}
	return s.records[i], nil
}

// Update applies p to the record. Changing the image reference drops the
// previously cached file and schedules a fetch for the new one.
func (s *Service) Update(_ context.Context, id int, p Patch) (models.Record, error) {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Record{}, apperr.ErrNotFound
	}
	prev := s.records[i]
	next := prev

	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Category != nil {
		next.Category = *p.Category
	}
	if p.Level != nil {
		next.Level = *p.Level
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	in := Input{Name: next.Name, Category: next.Category, Level: next.Level}
	if err := in.Validate(); err != nil {
		s.mu.Unlock()
		return models.Record{}, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}

	refChanged := false
	if p.ImageURL != nil {
		ref := strings.TrimSpace(*p.ImageURL)
		if ref == "" {
			ref = models.Unspecified
		}
		if ref != prev.ImageURL {
			refChanged = true
			next.ImageURL = ref
			next.LocalImagePath = ""
			next.ImageHash = ""
			next.Downloading = false
		}
	}

	s.records[i] = next
	prevGen, hadGen := s.gens[id]
	var job *fetchJob
	if refChanged {
		// Invalidate any fetch still running for the old reference.
		s.genSeq++
		s.gens[id] = s.genSeq
		if models.HasImageRef(next.ImageURL) {
			j := s.prepareFetchLocked(i)
			job = &j
		}
	}
	if err := s.saveLocked(); err != nil {
		// The old fetch, if any, must still be able to land.
		s.records[i] = prev
		if hadGen {
			s.gens[id] = prevGen
		} else {
			delete(s.gens, id)
		}
		s.mu.Unlock()
		return models.Record{}, err
	}
	rec := s.records[i]
	if refChanged && prev.HasLocalImage() && !s.claimedLocked(prev.LocalImagePath) {
		s.removeCachedLocked(prev.LocalImagePath)
	}
	s.mu.Unlock()

	s.notify(EventRecordUpdated, id)
	if job != nil {
		s.submit(*job)
	}
	return rec, nil
}

// Delete removes the record and its cached image. Unknown ids are a silent
// no-op. Nothing changes when the save fails.
func (s *Service) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	rec := s.records[i]
	prev := s.records
	rest := make([]models.Record, 0, len(prev)-1)
	rest = append(rest, prev[:i]...)
	s.records = append(rest, prev[i+1:]...)
	if err := s.saveLocked(); err != nil {
		s.records = prev
		s.mu.Unlock()
		return err
	}
	delete(s.gens, id)
	if rec.HasLocalImage() {
		s.removeCachedLocked(rec.LocalImagePath)
	}
	s.mu.Unlock()

	s.logger.Info("records: deleted", slog.Int("id", id))
	s.notify(EventRecordDeleted, id)
	return nil
}

// Refetch drops the record's cached image and schedules a fresh download.
// A fetch already in flight for the record is superseded.
func (s *Service) Refetch(_ context.Context, id int) (models.Record, error) {
	s.mu.Lock()
	i := s.indexOfLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Record{}, apperr.ErrNotFound
	}
	r := &s.records[i]
	if !models.HasImageRef(r.ImageURL) {
		rec := *r
		s.mu.Unlock()
		return rec, nil
	}
	if r.HasLocalImage() {
		s.removeCachedLocked(r.LocalImagePath)
	} else {
		s.removeCachedLocked(s.store.ResolveLocalPath(r.ID, r.ImageURL))
	}
	r.LocalImagePath = ""
	r.ImageHash = ""
	job := s.prepareFetchLocked(i)
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("records: save failed", slog.String("error", err.Error()))
	}
	rec := s.records[i]
	s.mu.Unlock()

	s.notify(EventRecordUpdated, id)
	s.submit(job)
	return rec, nil
}

// CheckStale reports whether the record's cached image differs in size from
// the remote source. Records without a reference are never stale.
func (s *Service) CheckStale(ctx context.Context, id int) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !models.HasImageRef(rec.ImageURL) {
		return false, nil
	}
	local := rec.LocalImagePath
	if local == "" {
		local = s.store.ResolveLocalPath(rec.ID, rec.ImageURL)
	}
	return s.fetcher.IsStale(ctx, rec.ImageURL, local), nil
}

// ClearCache purges the cache directory and forgets every record's image.
// Records keep their references, so a later Refetch or restart restores them.
func (s *Service) ClearCache(_ context.Context) error {
	s.mu.Lock()
	s.store.Clear()
	if s.index != nil {
		if err := s.index.DeleteAll(); err != nil {
			s.logger.Warn("records: index clear failed", slog.String("error", err.Error()))
		}
	}
	for i := range s.records {
		s.records[i].LocalImagePath = ""
		s.records[i].ImageHash = ""
	}
	err := s.saveLocked()
	s.mu.Unlock()

	s.logger.Info("records: cache cleared")
	s.notify(EventCacheCleared, 0)
	return err
}

// ForgetImage clears the image fields of any record pointing at path once
// the file is gone. It is meant for files removed behind the service's back.
func (s *Service) ForgetImage(path string) {
	if s.store.Exists(path) {
		return
	}
	s.mu.Lock()
	var changed []int
	for i := range s.records {
		r := &s.records[i]
		if r.LocalImagePath == path {
			r.LocalImagePath = ""
			r.ImageHash = ""
			changed = append(changed, r.ID)
		}
	}
	if len(changed) > 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Warn("records: save failed", slog.String("error", err.Error()))
		}
	}
	s.mu.Unlock()

	for _, id := range changed {
		s.logger.Info("records: image removed externally", slog.Int("id", id), slog.String("path", path))
		s.notify(EventRecordUpdated, id)
	}
}

// ImagePath returns the cached image file of the record.
func (s *Service) ImagePath(ctx context.Context, id int) (string, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !rec.HasLocalImage() || !s.store.Exists(rec.LocalImagePath) {
		return "", apperr.ErrNotFound
	}
	return rec.LocalImagePath, nil
}

// CacheInfo summarises the cache directory as it is on disk.
func (s *Service) CacheInfo(_ context.Context) models.CacheInfo {
	entries := s.store.ListEntries()
	return models.CacheInfo{
		Count:      len(entries),
		TotalBytes: s.store.TotalSize(),
		Entries:    entries,
	}
}

// CacheEntries lists cached files with their size and digest. Without an
// index the directory is scanned and hashed on the spot.
func (s *Service) CacheEntries(_ context.Context) ([]models.CacheEntry, error) {
	if s.index != nil {
		return s.index.ListEntries()
	}
	out := []models.CacheEntry{}
	for _, p := range s.store.ListEntries() {
		size, ok := s.store.Stat(p)
		if !ok {
			continue
		}
		id, _ := cache.ParseRecordID(p)
		out = append(out, models.CacheEntry{
			Path:      p,
			RecordID:  id,
			SizeBytes: size,
			Digest:    s.fetcher.Digest(p),
		})
	}
	return out, nil
}

// prepareFetchLocked marks the record at i as downloading and returns the job
// describing its fetch. Caller holds s.mu.
func (s *Service) prepareFetchLocked(i int) fetchJob {
	r := &s.records[i]
	r.Downloading = true
	s.genSeq++
	s.gens[r.ID] = s.genSeq
	return fetchJob{id: r.ID, ref: r.ImageURL, gen: s.genSeq}
}

// submit hands j to the pool. A rejected job completes immediately as a
// failed fetch so the downloading flag does not stick.
func (s *Service) submit(j fetchJob) {
	name := fmt.Sprintf("fetch record %d", j.id)
	if err := s.pool.Submit(name, func(ctx context.Context) { s.runFetch(ctx, j) }); err != nil {
		s.logger.Warn("records: fetch not scheduled", slog.Int("id", j.id), slog.String("error", err.Error()))
		s.complete(j, fetcher.Result{}, "")
	}
}

func (s *Service) runFetch(ctx context.Context, j fetchJob) {
	var (
		res    fetcher.Result
		digest string
	)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("records: fetch panicked", slog.Int("id", j.id), slog.String("panic", fmt.Sprint(r)))
			res, digest = fetcher.Result{}, ""
		}
		s.complete(j, res, digest)
	}()

	res = s.fetcher.Fetch(ctx, j.ref, j.id)
	if res.OK() {
		digest = s.fetcher.Digest(res.LocalPath)
	}
}

// complete applies a finished fetch to the record set. Completions for
// deleted records or superseded generations are discarded and any file they
// left behind is removed.
func (s *Service) complete(j fetchJob, res fetcher.Result, digest string) {
	s.mu.Lock()
	i := s.indexOfLocked(j.id)
	if i < 0 || s.gens[j.id] != j.gen {
		if res.OK() && !s.claimedLocked(res.LocalPath) {
			s.logger.Info("records: discarding orphaned image", slog.Int("id", j.id), slog.String("path", res.LocalPath))
			s.removeCachedLocked(res.LocalPath)
		}
		s.mu.Unlock()
		return
	}

	r := &s.records[i]
	r.Downloading = false
	if res.OK() && digest != "" {
		r.LocalImagePath = res.LocalPath
		r.ImageHash = digest
		s.indexEntryLocked(r.ID, j.ref, res.LocalPath, digest)
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("records: save failed", slog.String("error", err.Error()))
	}
	s.mu.Unlock()

	s.notify(EventRecordUpdated, j.id)
}

func (s *Service) indexEntryLocked(id int, ref, p, digest string) {
	if s.index == nil {
		return
	}
	size, _ := s.store.Stat(p)
	err := s.index.UpsertEntry(models.CacheEntry{
		Path:      p,
		RecordID:  id,
		SourceURL: ref,
		SizeBytes: size,
		Digest:    digest,
	})
	if err != nil {
		s.logger.Warn("records: index upsert failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}

func (s *Service) removeCachedLocked(p string) {
	s.store.Remove(p)
	if s.index != nil {
		if err := s.index.DeleteEntry(p); err != nil {
			s.logger.Warn("records: index delete failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

// claimedLocked reports whether a live record owns p, either as its stored
// image or as the target of its current reference.
func (s *Service) claimedLocked(p string) bool {
	for _, r := range s.records {
		if r.LocalImagePath == p {
			return true
		}
		if models.HasImageRef(r.ImageURL) && s.store.ResolveLocalPath(r.ID, r.ImageURL) == p {
			return true
		}
	}
	return false
}

func (s *Service) indexOfLocked(id int) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) saveLocked() error {
	snap := storage.Snapshot{NextID: s.nextID, Records: make([]models.Record, len(s.records))}
	copy(snap.Records, s.records)
	if err := s.doc.Save(snap); err != nil {
		return fmt.Errorf("recordservice: save: %w", err)
	}
	return nil
}

func (s *Service) notify(kind string, id int) {
	if s.notifier != nil {
		s.notifier.PublishRecordEvent(kind, id)
	}
}
