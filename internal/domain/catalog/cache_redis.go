package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "labflow:catalog:test:"

// redisClient is the slice of *goredis.Client the cache needs.
type redisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// NewRedisClient connects to REDIS_URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// CachedRepository is a read-through cache for single-test lookups. Redis
// failures degrade to the underlying repository.
type CachedRepository struct {
	Repository
	rdb redisClient
	ttl time.Duration
	log zerolog.Logger
}

func NewCachedRepository(next Repository, rdb redisClient, ttl time.Duration, log zerolog.Logger) *CachedRepository {
	return &CachedRepository{Repository: next, rdb: rdb, ttl: ttl, log: log.With().Str("component", "catalog_cache").Logger()}
}

func (c *CachedRepository) GetByCode(ctx context.Context, code string) (*Test, error) {
	key := cacheKeyPrefix + code

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t Test
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			return &t, nil
		}
		c.log.Warn().Str("code", code).Msg("discarding undecodable cache entry")
	case !errors.Is(err, goredis.Nil):
		c.log.Warn().Err(err).Str("code", code).Msg("cache read failed")
	}

	t, err := c.Repository.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(t); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			c.log.Warn().Err(serr).Str("code", code).Msg("cache write failed")
		}
	}
	return t, nil
}
