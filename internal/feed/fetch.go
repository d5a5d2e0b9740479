package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"eventcal/internal/atomicfile"
	appLog "eventcal/internal/log"
	"eventcal/internal/metrics"
	"eventcal/internal/model"
)

// Source represents a single remote JSON document.
type Source struct {
	// ID is a short label used for logging and metrics ("events", "timezones").
	ID string
	// URL is the document endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single source.
type FetchResult struct {
	Source    Source
	Body      []byte // payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused the cached body
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Options configures a Fetcher.
type Options struct {
	// CacheDir is the base directory for per-URL cache subdirectories.
	CacheDir string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed one.
	Retries int
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Fetcher retrieves feed documents with revalidation (ETag /
// Last-Modified, Cache-Control: no-cache) and a disk-backed fallback cache.
type Fetcher struct {
	client   *resty.Client
	cacheDir string
	retries  int
}

// NewFetcher creates a new Fetcher.
func NewFetcher(opts Options) *Fetcher {
	if opts.CacheDir == "" {
		// Caller should set this explicitly; we fallback to a relative dir
		// so that development runs without root permissions.
		opts.CacheDir = "./var/feed-cache"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var c *resty.Client
	if opts.Client != nil {
		c = resty.NewWithClient(opts.Client)
	} else {
		c = resty.New()
	}
	c.SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Cache-Control", "no-cache")

	return &Fetcher{
		client:   c,
		cacheDir: opts.CacheDir,
		retries:  opts.Retries,
	}
}

// FetchOne fetches a single source, honoring ETag and Last-Modified.
//
// Network errors and non-OK statuses fall back to the cached body when one
// exists. Without a cache they fail with an error wrapping ErrFeedFetch, so
// callers can tell "fetch failed" apart from an empty document.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, fmt.Errorf("%w: source URL is empty", model.ErrFeedFetch)
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("%w: %v", model.ErrFeedFetch, err)
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)
	if len(cachedBody) == 0 {
		// Never send validators we cannot honour with a body.
		meta = cacheEntry{}
	}

	appLog.Debug("feed fetch start", "id", src.ID, "url", redactURL(src.URL))

	var resp *resty.Response
	op := func() error {
		req := f.client.R().SetContext(ctx)
		// Conditional headers from cache metadata.
		if meta.ETag != "" {
			req.SetHeader("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.SetHeader("If-Modified-Since", meta.LastModified)
		}

		r, err := req.Get(src.URL)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if r.StatusCode() >= http.StatusInternalServerError || r.StatusCode() == http.StatusTooManyRequests {
			resp = r
			return errors.New(r.Status())
		}
		resp = r
		return nil
	}

	var policy backoff.BackOff = backoff.WithMaxRetries(newBackOff(), uint64(f.retries))
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil && resp == nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultCache).Inc()
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultError).Inc()
		return FetchResult{}, fmt.Errorf("%w: %s: %v", model.ErrFeedFetch, src.ID, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		body := resp.Body()

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header().Get("ETag"),
			LastModified: resp.Header().Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("feed cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("feed fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode(), "bytes", len(body))
		metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultOK).Inc()
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		// No change; use cached body if available.
		if len(cachedBody) == 0 {
			metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultError).Inc()
			return FetchResult{}, fmt.Errorf("%w: received 304 Not Modified but no cached body available", model.ErrFeedFetch)
		}
		appLog.Info("feed fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultNotModified).Inc()
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		// Non-OK status: if we have cached data, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch non-OK, using cached body", errors.New(resp.Status()), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode())
			metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultCache).Inc()
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultError).Inc()
		return FetchResult{}, fmt.Errorf("%w: %s: unexpected status %d", model.ErrFeedFetch, src.ID, resp.StatusCode())
	}
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// rawTimeZone is one element of the remote timezone list.
type rawTimeZone struct {
	Text string   `json:"text"`
	UTC  []string `json:"utc"`
}

// ParseTimeZones converts the remote timezone list into selectable options,
// using the first IANA name of every entry. Entries without one are dropped.
func ParseTimeZones(body []byte) ([]model.TimeZoneOption, error) {
	var raw []rawTimeZone
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: timezone list: %v", model.ErrInvalidPayload, err)
	}

	out := make([]model.TimeZoneOption, 0, len(raw))
	for _, tz := range raw {
		if len(tz.UTC) == 0 || tz.UTC[0] == "" {
			continue
		}
		out = append(out, model.TimeZoneOption{Text: tz.Text, Value: tz.UTC[0]})
	}
	return out, nil
}

// FetchTimeZones fetches and parses the timezone list.
func (f *Fetcher) FetchTimeZones(ctx context.Context, rawURL string) ([]model.TimeZoneOption, error) {
	res, err := f.FetchOne(ctx, Source{ID: "timezones", URL: rawURL})
	if err != nil {
		return nil, err
	}
	return ParseTimeZones(res.Body)
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
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

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := atomicfile.Write(filepath.Join(cachePath, "body.json"), body, ".body-*.tmp"); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(filepath.Join(cachePath, "meta.json"), data, ".meta-*.tmp")
}

// redactURL keeps only scheme and host of a URL for logging purposes.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "feed://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
