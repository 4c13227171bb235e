// Package cache implements the per-organization webhook cache.
package cache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sarathsp06/herald/internal/webhooks"
)

// DefaultTTL bounds how long an entry may live without an invalidation.
const DefaultTTL = 5 * time.Minute

// Memory is a process-local LRU cache with per-entry expiry.
type Memory struct {
	lru *expirable.LRU[string, []webhooks.Projection]
}

var _ webhooks.Cache = (*Memory)(nil)

// NewMemory returns a cache holding at most size organizations.
func NewMemory(size int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []webhooks.Projection](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, orgID string) ([]webhooks.Projection, bool, error) {
	ps, ok := m.lru.Get(orgID)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(ps), true, nil
}

func (m *Memory) Set(_ context.Context, orgID string, ps []webhooks.Projection) error {
	m.lru.Add(orgID, slices.Clone(ps))
	return nil
}

func (m *Memory) Invalidate(_ context.Context, orgID string) error {
	m.lru.Remove(orgID)
	return nil
}
