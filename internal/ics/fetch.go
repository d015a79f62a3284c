package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "agendacal/internal/log"
	"agendacal/internal/store"
)

// Source is one configured calendar feed.
type Source struct {
	// ID identifies the source in logs and in the parsed event set.
	ID string
	// Name is the display name of the calendar.
	Name string
	// URL is the ICS endpoint: http(s)://, file:// or a plain path.
	URL string
	// Color is applied to events without their own COLOR.
	Color string
}

// FetchResult is the body a source produced.
type FetchResult struct {
	Source Source
	Body   []byte
	// FromCache is set when the body came from the disk cache instead of a
	// fresh 200 response.
	FromCache bool
}

// Fetcher reads ICS feeds. HTTP feeds are revalidated with ETag and
// Last-Modified against a disk cache, and the cached body is served while
// the remote end is failing.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a fetcher caching under cacheDir ("./var/ics-cache"
// when empty).
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every source in order. Only sources that produced a body
// appear in the results; every failure is logged and returned.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	var (
		results []FetchResult
		errs    []error
	)
	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne reads a single source. A feed that is gone or refuses access
// (missing file, 401, 403, 404, 410) with nothing cached yields an error
// wrapping store.ErrStoreUnavailable.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, fmt.Errorf("ics %s: url is empty", src.ID)
	}
	if path, ok := localPath(src.URL); ok {
		return readLocal(src, path)
	}
	return f.fetchHTTP(ctx, src)
}

func readLocal(src Source, path string) (FetchResult, error) {
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return FetchResult{}, fmt.Errorf("ics %s: %w: %w", src.ID, store.ErrStoreUnavailable, err)
	}
	if err != nil {
		return FetchResult{}, fmt.Errorf("ics %s: %w", src.ID, err)
	}
	appLog.Debug("ics read local file", "id", src.ID, "path", path, "bytes", len(body))
	return FetchResult{Source: src, Body: body}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, src Source) (FetchResult, error) {
	cache := f.cacheFor(src.URL)
	meta, cached := cache.load()
	stale := func(reason error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, reason
		}
		appLog.Warn("ics feed failing, serving cached body",
			"id", src.ID, "url", redactURL(src.URL), "err", reason.Error(), "cached_at", meta.UpdatedAt.Format(time.RFC3339))
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("ics %s: %w", src.ID, err)
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return stale(fmt.Errorf("ics %s: %w", src.ID, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && len(cached) > 0:
		appLog.Debug("ics feed not modified", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return stale(fmt.Errorf("ics %s: reading body: %w", src.ID, err))
		}
		fresh := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := cache.save(fresh, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID)
		}
		appLog.Info("ics feed fetched", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case gone(resp.StatusCode):
		return stale(fmt.Errorf("ics %s: %s: %w", src.ID, resp.Status, store.ErrStoreUnavailable))

	default:
		return stale(fmt.Errorf("ics %s: unexpected status %s", src.ID, resp.Status))
	}
}

// gone reports statuses meaning the feed is absent or not ours to read,
// as opposed to a passing server failure.
func gone(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// localPath reports whether u names a file rather than an HTTP endpoint.
func localPath(u string) (string, bool) {
	if rest, ok := strings.CutPrefix(u, "file://"); ok {
		return rest, true
	}
	if strings.Contains(u, "://") {
		return "", false
	}
	return u, true
}

// cacheEntry is the revalidation metadata stored next to a cached body.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// diskCache is one feed's cache directory holding body.ics and meta.json.
type diskCache struct {
	dir string
}

func (f *Fetcher) cacheFor(rawURL string) diskCache {
	sum := sha256.Sum256([]byte(rawURL))
	return diskCache{dir: filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))}
}

// load returns the cached metadata and body. A missing or unreadable cache
// is an empty one.
func (c diskCache) load() (cacheEntry, []byte) {
	body, err := os.ReadFile(filepath.Join(c.dir, "body.ics"))
	if err != nil {
		return cacheEntry{}, nil
	}
	var meta cacheEntry
	if data, err := os.ReadFile(filepath.Join(c.dir, "meta.json")); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta, body
}

// save writes the body before the metadata so the metadata never describes
// a body that is not there.
func (c diskCache) save(meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host of a feed URL for logging; paths and
// query strings of calendar feeds often carry access tokens.
func redactURL(raw string) string {
	if path, ok := localPath(raw); ok {
		return "file://" + filepath.Base(path)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	// u.Host never includes userinfo.
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
