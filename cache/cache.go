package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/pachygram/domain"
	"github.com/redis/go-redis/v9"
)

// Cache is a short-TTL read-through cache over redis. Mutations delete the
// keys derivable from their inputs; cursor-qualified keys form a
// combinatorial space, so those expire by TTL instead (bounded staleness of
// at most one TTL period).
type Cache struct {
	*redis.Client
}

const (
	ProfileTTL    = 60 * time.Second
	CollectionTTL = 30 * time.Second
	FeedTTL       = 10 * time.Second
	CountTTL      = 30 * time.Second
)

func New(addr string) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &Cache{rdb}
}

// Key helpers: {kind}:{subjectHandle}[:cursor]

func ProfileKey(handle string) string {
	return fmt.Sprintf("profile:%s", handle)
}

func FollowersKey(handle, cursor string) string {
	return fmt.Sprintf("followers:%s:%s", handle, cursor)
}

func FollowingKey(handle, cursor string) string {
	return fmt.Sprintf("following:%s:%s", handle, cursor)
}

func FeedKey(handle string, cursor int64) string {
	return fmt.Sprintf("feed:%s:%d", handle, cursor)
}

func PostCountKey(handle string) string {
	return fmt.Sprintf("postcount:%s", handle)
}

// GetJSON reads a cached value into dest; false means miss. A broken redis
// is treated as a miss, reads must keep working without the cache.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		log.Printf("Cache: Read of %s failed: %v", key, err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.Printf("Cache: Corrupt entry at %s: %v", key, err)
		return false
	}
	return true
}

// SetJSON stores a value with the given TTL, best-effort.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("Cache: Marshal for %s failed: %v", key, err)
		return
	}
	if err := c.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Printf("Cache: Write of %s failed: %v", key, err)
	}
}

// Invalidate deletes the given keys synchronously. Failures are logged, not
// surfaced: the mutation already committed and the entries expire by TTL.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.Del(ctx, keys...).Err(); err != nil {
		log.Printf("Cache: Invalidation of %v failed: %v", keys, err)
	}
}

// InvalidateFollowChange drops the keys a follow/unfollow can make stale:
// the acting user's own following/feed/post-count views and the
// counterpart's followers view (first pages only, see type comment).
func (c *Cache) InvalidateFollowChange(ctx context.Context, actorHandle, counterpartHandle string) {
	c.Invalidate(ctx,
		FollowingKey(actorHandle, ""),
		FeedKey(actorHandle, domain.FeedStart),
		PostCountKey(actorHandle),
		FollowersKey(counterpartHandle, ""),
	)
}

// InvalidatePostChange drops the author's post-count and first feed page.
func (c *Cache) InvalidatePostChange(ctx context.Context, authorHandle string) {
	c.Invalidate(ctx,
		PostCountKey(authorHandle),
		FeedKey(authorHandle, domain.FeedStart),
	)
}

// InvalidateFeed drops the first feed page of one user, for inbound posts
// from a followee.
func (c *Cache) InvalidateFeed(ctx context.Context, handle string) {
	c.Invalidate(ctx, FeedKey(handle, domain.FeedStart))
}

// InvalidateProfileChange drops the profile view.
func (c *Cache) InvalidateProfileChange(ctx context.Context, handle string) {
	c.Invalidate(ctx, ProfileKey(handle))
}
