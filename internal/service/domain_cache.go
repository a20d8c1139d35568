package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DomainCache is the registered-domain lookup the authenticator falls back to
// before hitting the registry. Injected at construction time; the default
// implementation always misses.
type DomainCache interface {
	Contains(ctx context.Context, domain string) bool
	Replace(ctx context.Context, domains []string)
}

type noopDomainCache struct{}

// NewNoopDomainCache returns a cache that always misses.
func NewNoopDomainCache() DomainCache {
	return noopDomainCache{}
}

func (noopDomainCache) Contains(context.Context, string) bool { return false }
func (noopDomainCache) Replace(context.Context, []string)     {}

type redisDomainCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisDomainCache keeps the set of all registered domains in a redis set
// with a TTL. Misses are cheap; the authenticator still has a fresh registry
// lookup behind it.
func NewRedisDomainCache(client *redis.Client, key string, ttl time.Duration, logger zerolog.Logger) DomainCache {
	if key == "" {
		key = "talkline:domains"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisDomainCache{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.With().Str("component", "domain_cache").Logger(),
	}
}

func (c *redisDomainCache) Contains(ctx context.Context, domain string) bool {
	ok, err := c.client.SIsMember(ctx, c.key, domain).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("domain cache lookup failed")
		return false
	}
	return ok
}

func (c *redisDomainCache) Replace(ctx context.Context, domains []string) {
	if len(domains) == 0 {
		return
	}

	members := make([]interface{}, 0, len(domains))
	for _, domain := range domains {
		members = append(members, domain)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.key)
	pipe.SAdd(ctx, c.key, members...)
	pipe.Expire(ctx, c.key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("domain cache refresh failed")
	}
}
