package static

import (
	"bytes"
	"io"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	apperrors "github.com/taziji/ChinaRMBSite/internal/errors"
	"github.com/taziji/ChinaRMBSite/internal/metrics"
)

// Handler serves files from the document root, optionally through the
// content cache.
type Handler struct {
	resolver     *Resolver
	cache        *ContentCache
	cacheMetrics *metrics.CacheMetrics
}

// NewHandler wires a resolver with an optional cache. A nil cache
// streams every request straight from the filesystem.
func NewHandler(resolver *Resolver, cache *ContentCache, cacheMetrics *metrics.CacheMetrics) *Handler {
	return &Handler{
		resolver:     resolver,
		cache:        cache,
		cacheMetrics: cacheMetrics,
	}
}

// Serve handles GET and HEAD requests for static assets. Bodies stream
// byte-for-byte; http.ServeContent provides ranges, conditional
// requests, and HEAD semantics on top.
func (h *Handler) Serve(c echo.Context) error {
	res, err := h.resolver.Resolve(c.Request().URL.Path)
	if err != nil {
		return err
	}

	// Set before ServeContent so the fixed table wins over extension
	// sniffing.
	c.Response().Header().Set(echo.HeaderContentType, ContentType(res.Path))

	if h.cache != nil {
		return h.serveCached(c, res)
	}
	return h.serveFile(c, res)
}

func (h *Handler) serveFile(c echo.Context, res *Resource) error {
	f, err := os.Open(res.Path)
	if err != nil {
		return fsError(err)
	}
	defer f.Close()

	http.ServeContent(c.Response(), c.Request(), res.Info.Name(), res.Info.ModTime(), f)
	return nil
}

func (h *Handler) serveCached(c echo.Context, res *Resource) error {
	if entry, ok := h.cache.Get(res.Path); ok {
		// Serve the copy only while it matches what Resolve just saw
		// on disk.
		if entry.ModTime.Equal(res.Info.ModTime()) {
			h.recordCache(true)
			http.ServeContent(c.Response(), c.Request(), res.Info.Name(), entry.ModTime, bytes.NewReader(entry.Data))
			return nil
		}
		h.cache.Invalidate(res.Path)
	}
	h.recordCache(false)

	f, err := os.Open(res.Path)
	if err != nil {
		return fsError(err)
	}
	defer f.Close()

	if res.Info.Size() > h.cache.maxFileSize {
		http.ServeContent(c.Response(), c.Request(), res.Info.Name(), res.Info.ModTime(), f)
		return nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return apperrors.InternalError("reading file", err)
	}
	h.cache.Set(res.Path, Entry{Data: data, ModTime: res.Info.ModTime()})

	http.ServeContent(c.Response(), c.Request(), res.Info.Name(), res.Info.ModTime(), bytes.NewReader(data))
	return nil
}

func (h *Handler) recordCache(hit bool) {
	if h.cacheMetrics == nil {
		return
	}
	if hit {
		h.cacheMetrics.Hits.Inc()
	} else {
		h.cacheMetrics.Misses.Inc()
	}
}
