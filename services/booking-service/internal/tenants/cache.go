// Package tenants caches tenant settings in Redis in front of the store.
// Availability reads the tenant on every query; the cache keeps that off the
// database for the public widget.
package tenants

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

type Source interface {
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (model.Tenant, error)
}

// Cache is a read-through cache of tenants keyed by id and by slug. With a
// nil client it passes every call straight to the source. Redis failures
// are logged and fall back to the source.
type Cache struct {
	src    Source
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCache(src Source, rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{src: src, rdb: rdb, ttl: ttl, prefix: "chairbook:tenant:", logger: logger}
}

func (c *Cache) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	return c.load(ctx, c.prefix+"id:"+tenantID, func(ctx context.Context) (model.Tenant, error) {
		return c.src.GetTenant(ctx, tenantID)
	})
}

func (c *Cache) TenantBySlug(ctx context.Context, slug string) (model.Tenant, error) {
	return c.load(ctx, c.prefix+"slug:"+slug, func(ctx context.Context) (model.Tenant, error) {
		return c.src.TenantBySlug(ctx, slug)
	})
}

// Invalidate drops both cache entries of t. Call it after changing a
// tenant's settings.
func (c *Cache) Invalidate(ctx context.Context, t model.Tenant) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, c.prefix+"id:"+t.ID, c.prefix+"slug:"+t.Slug).Err()
}

func (c *Cache) load(ctx context.Context, key string, fetch func(context.Context) (model.Tenant, error)) (model.Tenant, error) {
	if c.rdb == nil {
		return fetch(ctx)
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t model.Tenant
		if err := json.Unmarshal(raw, &t); err == nil {
			return t, nil
		}
		c.logger.WarnContext(ctx, "tenant cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "tenant cache get failed", "key", key, "err", err)
	}

	t, err := fetch(ctx)
	if err != nil {
		return model.Tenant{}, err
	}
	if raw, err := json.Marshal(t); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "tenant cache set failed", "key", key, "err", err)
		}
	}
	return t, nil
}
