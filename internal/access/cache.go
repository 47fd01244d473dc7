package access

import (
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	grantedAt time.Time
}

// Cache remembers granted access decisions per email so the whitelist
// is not consulted again for every check. Only grants are stored,
// denials always go through the full evaluation. Entries older than
// the TTL are treated as absent and removed on access.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get reports whether a still valid grant is cached for the email.
func (c *Cache) Get(email string) bool {
	key := normalize(email)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(e.grantedAt) > c.ttl {
		delete(c.entries, key)
		return false
	}
	return true
}

// Put records a granted decision for the email.
func (c *Cache) Put(email string) {
	c.mu.Lock()
	c.entries[normalize(email)] = cacheEntry{grantedAt: c.now()}
	c.mu.Unlock()
}

// Delete drops the cached decision, used when access gets revoked.
func (c *Cache) Delete(email string) {
	c.mu.Lock()
	delete(c.entries, normalize(email))
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
