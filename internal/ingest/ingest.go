// Package ingest turns raw product records into ingested records: it
// validates identity, normalizes catalog text, and resolves the image
// reference into a verified local cache file. Remote fetches carry bounded
// retries; everything else in the pipeline treats ingest output as ready to
// use.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/model"
	"github.com/gatherhome/catalog-intel/internal/resilience"
)

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
}

// sniffed MIME type -> image_format value on the ingested record.
var imageFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Options configures an Ingestor.
type Options struct {
	// CacheDir is where fetched images land. Created on first use.
	CacheDir string

	// Timeout bounds a single fetch attempt, not the whole record.
	Timeout time.Duration

	UserAgent string

	// Retry governs re-fetching on transient failures.
	Retry resilience.Policy

	// Breaker governs per-host suspension when a CDN keeps failing.
	Breaker resilience.BreakerConfig
}

// Ingestor resolves product records for the pipeline's ingest stage.
type Ingestor struct {
	client   *http.Client
	cacheDir string
	retry    resilience.Policy
	breakers *resilience.HostBreakers
	agent    string
}

// New builds an Ingestor; zero options get production defaults.
func New(opts Options) *Ingestor {
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(".cache", "images")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "catalog-intel/1.0"
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = resilience.FetchPolicy()
	}
	return &Ingestor{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cacheDir: opts.CacheDir,
		retry:    opts.Retry,
		breakers: resilience.NewHostBreakers(opts.Breaker),
		agent:    opts.UserAgent,
	}
}

// Ingest validates the record and resolves its image reference. Records
// without an image reference ingest successfully with no image. Failures come
// back as ingest-stage errors (malformed_input, fetch_failed, timeout,
// unsupported_format).
func (i *Ingestor) Ingest(ctx context.Context, rec model.ProductRecord) (model.IngestedRecord, error) {
	out := model.IngestedRecord{ProductRecord: rec}

	if strings.TrimSpace(rec.ProductID) == "" {
		return out, model.NewStagedError(model.StageIngest, model.ErrMalformedInput,
			"record has no product_id")
	}
	out.NormalizedText = NormalizeText(rec.Title, rec.Description)

	if rec.ImageURL == "" {
		return out, nil
	}

	path, format, err := i.resolveImage(ctx, rec.ProductID, rec.ImageURL)
	if err != nil {
		return out, err
	}
	out.ImagePath = path
	out.ImageFormat = format
	return out, nil
}

// NormalizeText lowercases the non-empty text fields and joins them with a
// newline separator so phrase matches never straddle the title/description
// boundary.
func NormalizeText(title, description string) string {
	var parts []string
	for _, s := range []string{title, description} {
		if s != "" {
			parts = append(parts, strings.ToLower(s))
		}
	}
	return strings.Join(parts, " \n ")
}

// resolveImage dispatches on the reference shape: http(s) URLs are fetched
// into the cache, anything else is treated as a local file path.
func (i *Ingestor) resolveImage(ctx context.Context, productID, ref string) (string, string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
			eris.Wrapf(err, "ingest: invalid image reference %q", ref))
	}

	switch u.Scheme {
	case "http", "https":
		return i.download(ctx, productID, ref, u.Host)
	case "file":
		return i.validateLocal(u.Path)
	default:
		return i.validateLocal(ref)
	}
}

func (i *Ingestor) validateLocal(path string) (string, string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
			eris.Wrapf(err, "ingest: local image %s", path))
	}
	if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
		return "", "", model.NewStagedError(model.StageIngest, model.ErrUnsupportedFormat,
			"unsupported image type "+filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
			eris.Wrapf(err, "ingest: read local image %s", path))
	}
	format, err := sniffFormat(data)
	if err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrUnsupportedFormat, err)
	}
	return path, format, nil
}

func (i *Ingestor) download(ctx context.Context, productID, rawURL, host string) (string, string, error) {
	ext, err := inferExtension(rawURL)
	if err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrUnsupportedFormat, err)
	}

	if err := os.MkdirAll(i.cacheDir, 0o755); err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
			eris.Wrap(err, "ingest: create cache dir"))
	}
	dest := filepath.Join(i.cacheDir, cachedFilename(productID, rawURL, ext))

	if data, err := os.ReadFile(dest); err == nil {
		format, err := sniffFormat(data)
		if err != nil {
			return "", "", model.WrapStaged(model.StageIngest, model.ErrUnsupportedFormat, err)
		}
		zap.L().Debug("image cache hit",
			zap.String("product_id", productID),
			zap.String("path", dest),
		)
		return dest, format, nil
	}

	policy := i.retry
	policy.OnRetry = resilience.RetryLogger(string(model.StageIngest), rawURL)

	// The breaker judges the whole retried fetch, one verdict per record.
	body, err := resilience.BreakVal(ctx, i.breakers.For(host), func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, policy, func(ctx context.Context) ([]byte, error) {
			return i.fetchOnce(ctx, rawURL)
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrBreakerOpen):
			return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
				eris.Wrapf(err, "ingest: image host %s suspended", host))
		case ctx.Err() != nil:
			return "", "", model.WrapStaged(model.StageIngest, model.ErrTimeout,
				eris.Wrapf(err, "ingest: fetch %s", rawURL))
		default:
			return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
				eris.Wrapf(err, "ingest: fetch %s", rawURL))
		}
	}

	format, err := sniffFormat(body)
	if err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrUnsupportedFormat, err)
	}

	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", "", model.WrapStaged(model.StageIngest, model.ErrFetchFailed,
			eris.Wrap(err, "ingest: write cached image"))
	}
	zap.L().Debug("image cached",
		zap.String("product_id", productID),
		zap.String("path", dest),
		zap.Int("bytes", len(body)),
	)
	return dest, format, nil
}

func (i *Ingestor) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: build request")
	}
	req.Header.Set("User-Agent", i.agent)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ingest: http %d from %s", resp.StatusCode, rawURL)
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read body")
	}
	return body, nil
}

func sniffFormat(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	format, ok := imageFormats[contentType]
	if !ok {
		return "", eris.Errorf("ingest: unsupported image content %s", contentType)
	}
	return format, nil
}

// cachedFilename keys the cache by product slug and URL digest so the same
// record re-ingests without refetching while distinct URLs never collide.
func cachedFilename(productID, rawURL, ext string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(productID), "-"), "-")
	if slug == "" {
		slug = "product"
	}
	sum := sha1.Sum([]byte(rawURL))
	return slug + "_" + hex.EncodeToString(sum[:])[:10] + ext
}

func inferExtension(rawURL string) (string, error) {
	trimmed, _, _ := strings.Cut(rawURL, "?")
	ext := strings.ToLower(filepath.Ext(trimmed))
	if ext == "" {
		return ".jpg", nil
	}
	if !supportedExtensions[ext] {
		return "", eris.Errorf("ingest: unsupported image type %q", ext)
	}
	return ext, nil
}
