// Package cache holds the most recently inferred site structure per domain.
package cache

import (
	"sort"
	"sync"

	"github.com/maltedev/marketplace-agent/internal/models"
)

// StructureCache maps a domain to its latest SiteStructure. Entries are
// replaced wholesale on Put, never merged.
type StructureCache struct {
	mu      sync.RWMutex
	entries map[string]*models.SiteStructure
}

// New creates a new empty structure cache
func New() *StructureCache {
	return &StructureCache{entries: make(map[string]*models.SiteStructure)}
}

// Get returns a copy of the structure cached for domain.
func (c *StructureCache) Get(domain string) (*models.SiteStructure, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.entries[domain]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *StructureCache) Put(domain string, s *models.SiteStructure) {
	if domain == "" || s == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = s.Clone()
}

func (c *StructureCache) Delete(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain)
}

func (c *StructureCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*models.SiteStructure)
}

func (c *StructureCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Domains returns the cached domains in sorted order.
func (c *StructureCache) Domains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for d := range c.entries {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
