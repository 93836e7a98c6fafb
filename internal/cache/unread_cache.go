package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	DefaultUnreadTTL = 1 * time.Minute
	generationTTL    = 24 * time.Hour
)

// Store is the byte-level backend of UnreadCache. MGet returns nil for missing keys.
type Store interface {
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

type unreadSnapshot struct {
	Count      int   `msgpack:"c"`
	Generation int64 `msgpack:"g"`
	CachedAt   int64 `msgpack:"t"`
}

// UnreadCache caches global unread badge totals per user. A nil *UnreadCache is a no-op.
//
// Every user has a generation counter that Invalidate bumps. A snapshot only counts as a hit
// while its generation matches the current one, so a total counted before a concurrent write
// and stored after its invalidation is never served.
type UnreadCache struct {
	store Store
	ttl   time.Duration
}

// NewUnreadCache constructs an UnreadCache.
func NewUnreadCache(store Store, ttl time.Duration) *UnreadCache {
	if ttl <= 0 {
		ttl = DefaultUnreadTTL
	}
	return &UnreadCache{store: store, ttl: ttl}
}

func unreadKey(userID int) string {
	return fmt.Sprintf("chat:unread:%d", userID)
}

func generationKey(userID int) string {
	return fmt.Sprintf("chat:unread:gen:%d", userID)
}

// Get returns the cached total for userID together with the current generation.
// Callers that count on a miss pass that generation back to Set.
func (c *UnreadCache) Get(ctx context.Context, userID int) (int, int64, bool) {
	if c == nil || c.store == nil {
		return 0, 0, false
	}
	vals, err := c.store.MGet(ctx, unreadKey(userID), generationKey(userID))
	if err != nil || len(vals) != 2 {
		return 0, 0, false
	}

	var gen int64
	if vals[1] != nil {
		gen, err = strconv.ParseInt(string(vals[1]), 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	if vals[0] == nil {
		return 0, gen, false
	}
	var snap unreadSnapshot
	if err := msgpack.Unmarshal(vals[0], &snap); err != nil || snap.Generation != gen {
		return 0, gen, false
	}
	return snap.Count, gen, true
}

// Set caches a total counted under generation gen.
func (c *UnreadCache) Set(ctx context.Context, userID int, gen int64, count int) error {
	if c == nil || c.store == nil {
		return nil
	}
	data, err := msgpack.Marshal(unreadSnapshot{Count: count, Generation: gen, CachedAt: time.Now().Unix()})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, unreadKey(userID), data, c.ttl)
}

// Invalidate bumps the generation of the given users and drops their snapshots.
func (c *UnreadCache) Invalidate(ctx context.Context, userIDs ...int) error {
	if c == nil || c.store == nil || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, err := c.store.Incr(ctx, generationKey(id), generationTTL); err != nil {
			return err
		}
		keys = append(keys, unreadKey(id))
	}
	return c.store.Delete(ctx, keys...)
}
