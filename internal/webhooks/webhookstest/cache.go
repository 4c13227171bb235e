package webhookstest

import (
	"context"
	"slices"
	"sync"

	"github.com/sarathsp06/herald/internal/webhooks"
)

// Cache is an in-memory webhooks.Cache that records invalidations.
type Cache struct {
	mu          sync.Mutex
	entries     map[string][]webhooks.Projection
	invalidated []string

	// InvalidateErr, when set, is returned by Invalidate.
	InvalidateErr error
}

var _ webhooks.Cache = (*Cache)(nil)

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]webhooks.Projection)}
}

func (c *Cache) Get(_ context.Context, orgID string) ([]webhooks.Projection, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.entries[orgID]
	return slices.Clone(ps), ok, nil
}

func (c *Cache) Set(_ context.Context, orgID string, ps []webhooks.Projection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orgID] = slices.Clone(ps)
	return nil
}

func (c *Cache) Invalidate(_ context.Context, orgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, orgID)
	if c.InvalidateErr != nil {
		return c.InvalidateErr
	}
	delete(c.entries, orgID)
	return nil
}

// Has reports whether orgID currently has an entry.
func (c *Cache) Has(orgID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[orgID]
	return ok
}

// Invalidations returns the org ids passed to Invalidate, in order.
func (c *Cache) Invalidations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.invalidated)
}
