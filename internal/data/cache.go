package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
)

// Store is the cache backend. *redis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache wraps a provider with a Redis read-through cache. Cache failures
// degrade to direct provider calls, never to request failures.
type Cache struct {
	next   Provider
	store  Store
	ttl    time.Duration
	prefix string
}

// NewCache builds the caching decorator.
func NewCache(next Provider, store Store, ttl time.Duration) *Cache {
	return &Cache{
		next:   next,
		store:  store,
		ttl:    ttl,
		prefix: "stockrun:bars:",
	}
}

func (c *Cache) Name() string { return c.next.Name() }

// Bars serves from Redis when the exact request was seen within the TTL,
// otherwise fetches from the wrapped provider and stores the result.
func (c *Cache) Bars(ctx context.Context, symbol, interval string, limit int) (domain.Bars, error) {
	key := fmt.Sprintf("%s%s:%s:%s:%d", c.prefix, c.next.Name(), symbol, interval, limit)

	raw, err := c.store.Get(ctx, key).Result()
	switch {
	case err == nil:
		var bars domain.Bars
		if uerr := json.Unmarshal([]byte(raw), &bars); uerr == nil {
			log.Debug().Str("key", key).Msg("bars cache hit")
			return bars, nil
		}
		log.Warn().Str("key", key).Msg("bars cache entry corrupt, refetching")
	case err != redis.Nil:
		log.Warn().Err(err).Str("key", key).Msg("bars cache read failed")
	}

	bars, err := c.next.Bars(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	if payload, merr := json.Marshal(bars); merr == nil {
		if serr := c.store.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			log.Warn().Err(serr).Str("key", key).Msg("bars cache write failed")
		}
	}
	return bars, nil
}
