package static

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ContentCache provides in-memory caching of small static files with
// TTL-based expiration. Repeated requests for the hot assets of the
// mirror (index page, stylesheet, logo) skip the filesystem entirely;
// the TTL bounds staleness when the watcher misses an update.
type ContentCache struct {
	mu          sync.RWMutex
	entries     map[string]*cacheEntry
	ttl         time.Duration
	maxFileSize int64
	clock       clockwork.Clock
}

type cacheEntry struct {
	content   Entry
	expiresAt time.Time
}

// Entry is a cached file body with the modification time it was read
// at, as needed for conditional requests.
type Entry struct {
	Data    []byte
	ModTime time.Time
}

// NewContentCache creates a cache holding files up to maxFileSize
// bytes for at most ttl.
func NewContentCache(ttl time.Duration, maxFileSize int64, clock clockwork.Clock) *ContentCache {
	return &ContentCache{
		entries:     make(map[string]*cacheEntry),
		ttl:         ttl,
		maxFileSize: maxFileSize,
		clock:       clock,
	}
}

// Get retrieves a cached file if present and not expired.
func (c *ContentCache) Get(path string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return Entry{}, false
	}

	// Expired entries are treated as misses. They are not deleted here
	// (read lock only); eviction happens periodically.
	if c.clock.Now().After(entry.expiresAt) {
		return Entry{}, false
	}

	return entry.content, true
}

// Set stores a file body with the current timestamp plus TTL. Bodies
// larger than the configured limit are not cached.
func (c *ContentCache) Set(path string, content Entry) {
	if int64(len(content.Data)) > c.maxFileSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = &cacheEntry{
		content:   content,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Invalidate removes a single path from the cache and reports whether
// an entry was dropped. Called by the filesystem watcher when the
// underlying file changes.
func (c *ContentCache) Invalidate(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[path]; !ok {
		return false
	}
	delete(c.entries, path)
	return true
}

// Clear removes all entries from the cache.
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Size returns the current number of entries (including expired).
func (c *ContentCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired removes all expired entries and returns the count
// evicted. This keeps the map from growing without bound.
func (c *ContentCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0

	for path, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, path)
			evicted++
		}
	}

	return evicted
}

// StartEvictionTimer starts a background goroutine that periodically
// evicts expired entries. The returned stop function cleans up the
// goroutine.
func (c *ContentCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.EvictExpired(); evicted > 0 {
					slog.Debug("evicted expired cache entries",
						"count", evicted,
						"remaining", c.Size(),
					)
				}

			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
