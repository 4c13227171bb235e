package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sarathsp06/herald/internal/webhooks"
)

const keyPrefix = "herald:webhooks:v1:"

// Redis shares cache entries between service instances.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ webhooks.Cache = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func key(orgID string) string { return keyPrefix + orgID }

func (r *Redis) Get(ctx context.Context, orgID string) ([]webhooks.Projection, bool, error) {
	b, err := r.client.Get(ctx, key(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var ps []webhooks.Projection
	if err := json.Unmarshal(b, &ps); err != nil {
		// An undecodable entry is treated as a miss and dropped.
		_ = r.client.Del(ctx, key(orgID)).Err()
		return nil, false, nil
	}
	return ps, true, nil
}

func (r *Redis) Set(ctx context.Context, orgID string, ps []webhooks.Projection) error {
	if ps == nil {
		ps = []webhooks.Projection{}
	}
	b, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("encode projections: %w", err)
	}
	if err := r.client.Set(ctx, key(orgID), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, orgID string) error {
	if err := r.client.Del(ctx, key(orgID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
