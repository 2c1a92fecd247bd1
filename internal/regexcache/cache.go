package regexcache

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/mondtic/corporate-access/internal/models"
)

const defaultCapacity = 1024

// Cache memoizes compiled email patterns per catalog. Entries are rebuilt
// from the database on demand; the cache is a derived projection and never a
// source of truth. A fixed entry ceiling bounds memory since catalog counts
// are small relative to request volume.
type Cache struct {
	db       *gorm.DB
	capacity int

	mu      sync.Mutex
	entries map[string][]*regexp.Regexp
	order   []string // recency order, least recently used at the front
}

// Option customises the Cache.
type Option func(*Cache)

// WithCapacity overrides the entry ceiling.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// New constructs a regex cache backed by the provided database handle.
func New(db *gorm.DB, opts ...Option) (*Cache, error) {
	if db == nil {
		return nil, fmt.Errorf("regexcache: db is required")
	}
	cache := &Cache{
		db:       db,
		capacity: defaultCapacity,
		entries:  make(map[string][]*regexp.Regexp),
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache, nil
}

// ForCatalog returns the compiled matchers for the catalog, loading and
// compiling them on first use. Individual invalid patterns are skipped
// rather than failing the whole catalog.
func (c *Cache) ForCatalog(catalogID string) ([]*regexp.Regexp, error) {
	c.mu.Lock()
	if compiled, ok := c.entries[catalogID]; ok {
		c.touchLocked(catalogID)
		c.mu.Unlock()
		return compiled, nil
	}
	c.mu.Unlock()

	var patterns []string
	err := c.db.Model(&models.CatalogEmailRegex{}).
		Where("catalog_id = ?", catalogID).
		Pluck("pattern", &patterns).Error
	if err != nil {
		return nil, fmt.Errorf("regexcache: load patterns: %w", err)
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, compileErr := regexp.Compile("(?i)" + NormalizePattern(pattern))
		if compileErr != nil {
			continue
		}
		compiled = append(compiled, re)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[catalogID]; !ok {
		c.entries[catalogID] = compiled
		c.order = append(c.order, catalogID)
		c.evictLocked()
	}
	return c.entries[catalogID], nil
}

// Matches reports whether the email fully matches any of the catalog's
// anchored patterns. An empty email never matches.
func (c *Cache) Matches(catalogID, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	compiled, err := c.ForCatalog(catalogID)
	if err != nil {
		return false
	}
	for _, re := range compiled {
		if re.MatchString(email) {
			return true
		}
	}
	return false
}

// Invalidate drops the cached matchers for one catalog.
func (c *Cache) Invalidate(catalogID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, catalogID)
	for i, id := range c.order {
		if id == catalogID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// InvalidateAll clears every cached catalog. Rule mutations are rare relative
// to reads, so a coarse full clear keeps the invalidation path simple.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string][]*regexp.Regexp)
	c.order = nil
}

func (c *Cache) evictLocked() {
	for len(c.order) > c.capacity {
		coldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, coldest)
	}
}

// touchLocked moves the catalog to the most-recently-used end of order.
func (c *Cache) touchLocked(catalogID string) {
	for i, id := range c.order {
		if id == catalogID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, catalogID)
			return
		}
	}
}

// NormalizePattern anchors a pattern so matching is always full-string. A
// pattern already carrying either anchor is left as written.
func NormalizePattern(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	if strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$") {
		return pattern
	}
	return "^" + pattern + "$"
}

// nestedQuantifier spots quantified groups that are themselves quantified,
// e.g. (.*)+ or (a+)*. RE2 cannot backtrack, but rules written here may be
// evaluated by other engines, so these constructs are rejected at write time.
var nestedQuantifier = regexp.MustCompile(`\([^)]*[*+][^)]*\)[*+{]`)

// ValidatePattern checks that a rule both compiles and is free of
// nested-quantifier constructs. Returns the normalized (anchored) pattern.
func ValidatePattern(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return "", fmt.Errorf("regexcache: pattern is empty")
	}
	if nestedQuantifier.MatchString(pattern) {
		return "", fmt.Errorf("regexcache: pattern %q contains a nested quantifier", pattern)
	}
	normalized := NormalizePattern(pattern)
	if _, err := regexp.Compile("(?i)" + normalized); err != nil {
		return "", fmt.Errorf("regexcache: invalid pattern %q: %w", pattern, err)
	}
	return normalized, nil
}
