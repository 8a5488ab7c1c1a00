package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"goodlistseller-gate/internal/fetch"
	"goodlistseller-gate/internal/observability"
)

const (
	defaultImageTTL      = 10 * time.Minute
	defaultImageMaxItems = 500
	imageCacheControl    = "public, max-age=86400, immutable"
)

// Fetcher is satisfied by *fetch.Client
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

type cachedImage struct {
	contentType string
	body        []byte
}

// ImageHandler proxies uploaded images from the image origin. The gate has
// already rejected traversal in the path parameter.
type ImageHandler struct {
	fetcher  Fetcher
	origin   string
	cache    *gocache.Cache
	maxItems int
	inflight singleflight.Group
}

// NewImageHandler creates a proxy for <origin>/uploads/<path>. ttl and
// maxItems fall back to defaults when not positive.
func NewImageHandler(fetcher Fetcher, origin string, ttl time.Duration, maxItems int) *ImageHandler {
	if ttl <= 0 {
		ttl = defaultImageTTL
	}
	if maxItems <= 0 {
		maxItems = defaultImageMaxItems
	}
	return &ImageHandler{
		fetcher:  fetcher,
		origin:   strings.TrimRight(origin, "/"),
		cache:    gocache.New(ttl, time.Minute),
		maxItems: maxItems,
	}
}

// imageError maps a failed load to the response the browser sees
type imageError struct {
	status  int
	message string
}

func (e *imageError) Error() string { return e.message }

var (
	errImageNotFound = &imageError{http.StatusNotFound, "Image not found"}
	errImageFetch    = &imageError{http.StatusBadGateway, "Failed to fetch image"}
	errNotAnImage    = &imageError{http.StatusBadGateway, "Upstream did not return an image"}
)

// ServeHTTP handles GET /api/images/uploads?path=<rel>
func (h *ImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(w, http.StatusBadRequest, "Missing path parameter")
		return
	}
	if h.origin == "" {
		writeError(w, http.StatusNotFound, "Image proxy not configured")
		return
	}

	if v, ok := h.cache.Get(rel); ok {
		observability.ImageCacheTotal.WithLabelValues("hit").Inc()
		writeImage(w, v.(*cachedImage))
		return
	}
	observability.ImageCacheTotal.WithLabelValues("miss").Inc()

	// concurrent misses for one path share a single upstream fetch. The
	// fetch outlives a caller that goes away since others may be waiting.
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.inflight.Do(rel, func() (any, error) {
		return h.load(ctx, rel)
	})
	if err != nil {
		var ie *imageError
		if !errors.As(err, &ie) {
			ie = errImageFetch
		}
		writeError(w, ie.status, ie.message)
		return
	}
	writeImage(w, v.(*cachedImage))
}

// load fetches rel from the image origin and caches it while the cache has
// room. Failures are never cached.
func (h *ImageHandler) load(ctx context.Context, rel string) (*cachedImage, error) {
	logger := observability.FromContext(ctx).With(slog.String("path", rel))

	resp, err := h.fetcher.Get(ctx, h.origin+"/uploads/"+escapePath(rel))
	if err != nil {
		if errors.Is(err, fetch.ErrHostNotAllowed) || errors.Is(err, fetch.ErrPrivateAddress) || errors.Is(err, fetch.ErrBlockedURL) {
			logger.Warn("image fetch blocked", slog.Any("error", err))
		} else {
			logger.Error("image fetch failed", slog.Any("error", err))
		}
		return nil, errImageFetch
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errImageNotFound
	case resp.StatusCode != http.StatusOK:
		logger.Warn("image origin error", slog.Int("status", resp.StatusCode))
		return nil, errImageFetch
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		logger.Warn("image origin returned non-image", slog.String("content_type", contentType))
		return nil, errNotAnImage
	}

	img := &cachedImage{contentType: contentType, body: resp.Body}
	if h.cache.ItemCount() < h.maxItems {
		h.cache.Set(rel, img, gocache.DefaultExpiration)
	}
	return img, nil
}

func writeImage(w http.ResponseWriter, img *cachedImage) {
	h := w.Header()
	h.Set("Content-Type", img.contentType)
	h.Set("Content-Length", strconv.Itoa(len(img.body)))
	h.Set("Cache-Control", imageCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.body)
}

// escapePath escapes each segment so "?" or "#" in a file name stays part
// of the path.
func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
