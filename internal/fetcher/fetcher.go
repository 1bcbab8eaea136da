// Package fetcher downloads record images into the cache store and checks
// cached copies against the remote source.
//
// Nothing here returns transport errors to the caller: every network fault
// becomes a failure Result (or a conservative staleness answer) plus one log
// line. Retrying is the caller's decision.
package fetcher

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/roster/internal/cache"
	"github.com/starford/roster/internal/checksum"
	"github.com/starford/roster/internal/models"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "roster/1.0"
	sniffLen         = 512
)

// Result describes the outcome of one Fetch call. A zero Result means nothing
// was fetched: either there was no reference or the download failed.
type Result struct {
	Downloaded bool   `json:"downloaded"`
	LocalPath  string `json:"local_path"`
}

// OK reports whether a local copy is available at LocalPath.
func (r Result) OK() bool {
	return r.LocalPath != ""
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout sets the default client timeout. Ignored when a client is
// supplied through WithHTTPClient.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// Fetcher retrieves remote images exactly once per resolved cache path.
type Fetcher struct {
	store     *cache.Store
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *slog.Logger

	inflight singleflight.Group
}

// New creates a Fetcher writing into store.
func New(store *cache.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:     store,
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}
	return f
}

// Fetch makes the image for recordID available locally. Existing files are
// trusted as-is and never re-validated.
func (f *Fetcher) Fetch(ctx context.Context, ref string, recordID int) Result {
	if !models.HasImageRef(ref) {
		return Result{}
	}

	localPath := f.store.ResolveLocalPath(recordID, ref)
	if f.store.Exists(localPath) {
		return Result{Downloaded: false, LocalPath: localPath}
	}

	v, _, _ := f.inflight.Do(localPath, func() (any, error) {
		// A concurrent caller may have finished while we waited on the group.
		if f.store.Exists(localPath) {
			return Result{LocalPath: localPath}, nil
		}
		return f.download(ctx, ref, localPath), nil
	})
	return v.(Result)
}

func (f *Fetcher) download(ctx context.Context, ref, localPath string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		f.logger.Warn("fetch: bad reference", slog.String("url", ref), slog.String("error", err.Error()))
		return Result{}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("fetch: request failed", slog.String("url", ref), slog.String("error", err.Error()))
		return Result{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Warn("fetch: unexpected status",
			slog.String("url", ref),
			slog.Int("status", resp.StatusCode))
		return Result{}
	}

	// Bytes are stored as received; a payload that is not an image is only
	// reported.
	body := bufio.NewReaderSize(resp.Body, sniffLen)
	if head, _ := body.Peek(sniffLen); len(head) > 0 {
		if ct := http.DetectContentType(head); !strings.HasPrefix(ct, "image/") {
			f.logger.Warn("fetch: payload is not an image",
				slog.String("url", ref),
				slog.String("detected", ct))
		}
	}

	written, err := f.store.Put(ctx, localPath, body)
	if err != nil {
		f.logger.Warn("fetch: store failed", slog.String("url", ref), slog.String("error", err.Error()))
		return Result{}
	}

	f.logger.Debug("fetch: downloaded",
		slog.String("url", ref),
		slog.String("path", localPath),
		slog.Int64("bytes", written))
	return Result{Downloaded: true, LocalPath: localPath}
}

// IsStale compares the remote content length reported by a HEAD request with
// the size of the local file. A missing local file is always stale; any
// network trouble or unknown length is reported as fresh.
func (f *Fetcher) IsStale(ctx context.Context, ref, localPath string) bool {
	localSize, ok := f.store.Stat(localPath)
	if !ok {
		return true
	}
	if !models.HasImageRef(ref) {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("fetch: head failed", slog.String("url", ref), slog.String("error", err.Error()))
		return false
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.ContentLength < 0 {
		return false
	}
	return resp.ContentLength != localSize
}

// Digest returns the lower-case hex SHA-256 of the file at path, or "".
func (f *Fetcher) Digest(path string) string {
	return checksum.File(path)
}
