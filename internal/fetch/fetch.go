// Package fetch performs conditional HTTP GETs (ETag / Last-Modified)
// backed by a small on-disk cache, so portal and feed refreshes survive
// transient outages and skip unchanged payloads.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "portalcal/internal/log"
)

// ErrNotModifiedNoCache is returned when the server answers 304 but no
// cached body exists to reuse.
var ErrNotModifiedNoCache = errors.New("fetch: 304 Not Modified but no cached body available")

// StatusError reports a non-OK HTTP status with no cache to fall back on.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned %d %s", RedactURL(e.URL), e.Code, http.StatusText(e.Code))
}

// Request describes one resource to fetch.
type Request struct {
	// ID is a short label used in logs.
	ID  string
	URL string
	// Header carries extra request headers such as Authorization.
	Header http.Header
}

// Result is the body of a fetched resource.
type Result struct {
	Request   Request
	Body      []byte
	FromCache bool
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches resources with HTTP caching and a disk-backed cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// New creates a Fetcher caching under cacheDir. A nil client gets a
// 15 second timeout.
func New(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/http-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Get fetches one resource. On network errors or non-OK statuses it
// falls back to the cached body when one exists.
func (f *Fetcher) Get(ctx context.Context, req Request) (Result, error) {
	if req.URL == "" {
		return Result{}, errors.New("fetch: URL is empty")
	}

	cachePath := f.cachePathForURL(req.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, fmt.Errorf("fetch: create cache dir: %w", err)
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			httpReq.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			httpReq.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("fetch start", "id", req.ID, "url", RedactURL(req.URL))

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("fetch network error, using cached body", err, "id", req.ID, "url", RedactURL(req.URL))
			return Result{Request: req, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("fetch %s: %w", req.ID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, fmt.Errorf("fetch %s: read body: %w", req.ID, err)
		}

		newMeta := cacheEntry{
			URL:          req.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("fetch cache save failed", err, "id", req.ID, "url", RedactURL(req.URL))
		}

		appLog.Info("fetch success", "id", req.ID, "url", RedactURL(req.URL), "bytes", len(body))
		return Result{Request: req, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, ErrNotModifiedNoCache
		}
		appLog.Info("fetch not modified; using cache", "id", req.ID, "url", RedactURL(req.URL))
		return Result{Request: req, Body: cachedBody, FromCache: true}, nil

	default:
		// Auth failures must surface; a cached body would hide an expired token.
		if len(cachedBody) > 0 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
			appLog.Error("fetch non-OK, using cached body", errors.New(resp.Status),
				"id", req.ID, "url", RedactURL(req.URL), "status", resp.StatusCode)
			return Result{Request: req, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, &StatusError{URL: req.URL, Code: resp.StatusCode}
	}
}

// GetAll fetches every request in order. Failed requests are logged and
// reported in the error slice; only successes appear in the results.
func (f *Fetcher) GetAll(ctx context.Context, reqs []Request) ([]Result, []error) {
	results := make([]Result, 0, len(reqs))
	errs := make([]error, 0)
	for _, r := range reqs {
		res, err := f.Get(ctx, r)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("fetch failed", err, "id", r.ID, "url", RedactURL(r.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL keeps scheme and host only, since feed and API URLs often
// carry tokens in their path or query.
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	if j := strings.IndexByte(rest, '?'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
