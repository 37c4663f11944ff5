package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/pkg/logger"
)

const (
	// DefaultBarnCacheTTL is how long a resolved barn stays cached.
	DefaultBarnCacheTTL = 5 * time.Minute

	barnCachePrefix = "barn:lookup:"
)

// CachedBarnDirectory caches successful barn lookups in redis. Misses are
// not cached so a newly created barn is picked up on its first reading.
type CachedBarnDirectory struct {
	next   BarnDirectory
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ BarnDirectory = (*CachedBarnDirectory)(nil)

// NewCachedBarnDirectory wraps next. A non-positive ttl falls back to the default.
func NewCachedBarnDirectory(next BarnDirectory, rdb *redis.Client, ttl time.Duration, l *slog.Logger) (*CachedBarnDirectory, error) {
	if next == nil {
		return nil, errors.New("barn directory cannot be nil")
	}
	if rdb == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if l == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultBarnCacheTTL
	}
	return &CachedBarnDirectory{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.Component(l, "barn-cache"),
	}, nil
}

// FindByID implements BarnDirectory.
func (c *CachedBarnDirectory) FindByID(ctx context.Context, id string) (*model.Barn, error) {
	return c.lookup(ctx, "id:"+id, func() (*model.Barn, error) {
		return c.next.FindByID(ctx, id)
	})
}

// FindByCode implements BarnDirectory.
func (c *CachedBarnDirectory) FindByCode(ctx context.Context, code string) (*model.Barn, error) {
	return c.lookup(ctx, "code:"+code, func() (*model.Barn, error) {
		return c.next.FindByCode(ctx, code)
	})
}

// lookup treats redis as best effort: any cache failure falls through to the
// wrapped directory.
func (c *CachedBarnDirectory) lookup(ctx context.Context, key string, load func() (*model.Barn, error)) (*model.Barn, error) {
	key = barnCachePrefix + key

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var barn model.Barn
		if err := json.Unmarshal(raw, &barn); err == nil {
			return &barn, nil
		}
		c.logger.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("barn cache read failed", "key", key, "error", err)
	}

	barn, err := load()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(barn)
	if err != nil {
		return nil, fmt.Errorf("failed to encode barn %s: %w", barn.ID, err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("barn cache write failed", "key", key, "error", err)
	}
	return barn, nil
}
