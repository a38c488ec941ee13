package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"feedsync/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	pageKeyPrefix = "page:%s:%s"
	tagKeyPrefix  = "pagetag:%s:%s"
)

// DefaultPageTTL applies when NewPageCache is given a non-positive TTL.
const DefaultPageTTL = 30 * time.Second

// ProfileTag tags every cached page whose content depends on a profile's state.
func ProfileTag(profileID string) string {
	return "profile:" + profileID
}

// PopularTag tags cached pages of the popular-profiles panel.
const PopularTag = "popular"

// PageCache caches raw page bodies by URL. Entries are namespaced per session user
// because pages embed the viewer's follow state. A nil *PageCache or a nil client
// disables caching; Redis errors never fail a fetch.
type PageCache struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

// NewPageCache returns a cache bound to client, or nil when client is nil.
func NewPageCache(client *redis.Client, ttl time.Duration, namespace string) *PageCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultPageTTL
	}
	if namespace == "" {
		namespace = "anon"
	}
	return &PageCache{client: client, ttl: ttl, namespace: namespace}
}

func (c *PageCache) pageKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return fmt.Sprintf(pageKeyPrefix, c.namespace, hex.EncodeToString(sum[:]))
}

func (c *PageCache) tagKey(tag string) string {
	return fmt.Sprintf(tagKeyPrefix, c.namespace, tag)
}

// Get returns the cached body for url.
func (c *PageCache) Get(ctx context.Context, url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	b, err := c.client.Get(ctx, c.pageKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.PageCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		observability.PageCacheTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	observability.PageCacheTotal.WithLabelValues("hit").Inc()
	return b, true
}

// Set stores body for url and records it under each tag.
func (c *PageCache) Set(ctx context.Context, url string, body []byte, tags ...string) {
	if c == nil {
		return
	}
	key := c.pageKey(url)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, body, c.ttl)
	for _, tag := range tags {
		tk := c.tagKey(tag)
		pipe.SAdd(ctx, tk, key)
		pipe.Expire(ctx, tk, c.ttl)
	}
	// Best-effort; a failed write only costs a future miss.
	_, _ = pipe.Exec(ctx)
}

// Aside serves url from the cache, or calls fetch on a miss. Every body, cached or
// fetched, goes through load; a fetched body is cached only once load accepts it, so
// a malformed page is never served again. It reports whether the body was a hit.
// A nil cache always fetches.
func (c *PageCache) Aside(ctx context.Context, url string, fetch func(context.Context) ([]byte, error), load func([]byte) error, tags ...string) (bool, error) {
	if b, ok := c.Get(ctx, url); ok {
		return true, load(b)
	}
	b, err := fetch(ctx)
	if err != nil {
		return false, err
	}
	if err := load(b); err != nil {
		return false, err
	}
	c.Set(ctx, url, b, tags...)
	return false, nil
}

// InvalidateTag drops every page recorded under tag.
func (c *PageCache) InvalidateTag(ctx context.Context, tag string) {
	if c == nil {
		return
	}
	tk := c.tagKey(tag)
	keys, err := c.client.SMembers(ctx, tk).Result()
	if err != nil {
		return
	}
	keys = append(keys, tk)
	c.client.Del(ctx, keys...)
}

// InvalidateProfile drops pages that embed the follow state of profileID.
func (c *PageCache) InvalidateProfile(ctx context.Context, profileID string) {
	c.InvalidateTag(ctx, ProfileTag(profileID))
	c.InvalidateTag(ctx, PopularTag)
}
