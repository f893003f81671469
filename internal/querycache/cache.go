// Package querycache holds the results of remote queries on the client: deduplicated fetches,
// staleness, prefix invalidation and copy-on-write snapshots for optimistic updates.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// FeedKey addresses the paginated public feed.
	FeedKey = "feed"
	// CardKeyPrefix prefixes every card detail key.
	CardKeyPrefix    = "card:"
	defaultStaleTime = 30 * time.Second
)

// CardKey addresses the detail view of one card.
func CardKey(id string) string {
	return CardKeyPrefix + id
}

// Fetcher loads the value stored under a key.
type Fetcher func(ctx context.Context) (any, error)

// Config configures a Cache. Zero values select defaults.
type Config struct {
	StaleTime time.Duration
	Clock     func() time.Time
	Logger    *zap.Logger
}

type entry struct {
	value     any
	hasValue  bool
	fetchedAt time.Time
	stale     bool
	fetcher   Fetcher
}

// Cache stores query results by key. Stored values are treated as immutable: updates replace
// them with new values so snapshots keep referring to the old ones.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	group     singleflight.Group
	staleTime time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func New(cfg Config) *Cache {
	staleTime := cfg.StaleTime
	if staleTime <= 0 {
		staleTime = defaultStaleTime
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries:   make(map[string]*entry),
		staleTime: staleTime,
		now:       clock,
		logger:    logger,
	}
}

// Fetch returns the fresh cached value for key or loads it with fetcher. Concurrent fetches of
// the same key share one call. The fetcher is remembered for Refetch.
func (c *Cache) Fetch(ctx context.Context, key string, fetcher Fetcher) (any, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("querycache: fetcher required for %q", key)
	}
	c.mu.Lock()
	current := c.entryLocked(key)
	current.fetcher = fetcher
	if current.hasValue && !current.stale && c.now().Sub(current.fetchedAt) < c.staleTime {
		value := current.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()
	return c.load(ctx, key, fetcher)
}

func (c *Cache) load(ctx context.Context, key string, fetcher Fetcher) (any, error) {
	value, err, _ := c.group.Do(key, func() (any, error) {
		value, err := fetcher(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		current := c.entryLocked(key)
		current.value = value
		current.hasValue = true
		current.fetchedAt = c.now()
		current.stale = false
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		c.logger.Debug("query fetch failed", zap.String("key", key), zap.Error(err))
	}
	return value, err
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	current, ok := c.entries[key]
	if !ok || !current.hasValue {
		return nil, false
	}
	return current.value, true
}

// Set stores value as fresh data for key.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entryLocked(key)
	current.value = value
	current.hasValue = true
	current.fetchedAt = c.now()
	current.stale = false
}

// Update replaces the value under key with fn's result while holding the cache lock. fn is not
// called when key has no value; it returns false to leave the value untouched.
func (c *Cache) Update(key string, fn func(current any) (any, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.entries[key]
	if !ok || !current.hasValue {
		return false
	}
	next, changed := fn(current.value)
	if !changed {
		return false
	}
	current.value = next
	return true
}

// Remove drops the value under key and reports whether one was present. The remembered
// fetcher is kept.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.entries[key]
	if !ok || !current.hasValue {
		return false
	}
	current.value = nil
	current.hasValue = false
	current.stale = false
	return true
}

// Invalidate marks every key with prefix stale and returns how many were marked.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	marked := 0
	for key, current := range c.entries {
		if strings.HasPrefix(key, prefix) && current.hasValue {
			current.stale = true
			marked++
		}
	}
	return marked
}

// Refetch reloads each key with its remembered fetcher. Keys never fetched are skipped.
func (c *Cache) Refetch(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		c.mu.RLock()
		current, ok := c.entries[key]
		var fetcher Fetcher
		if ok {
			fetcher = current.fetcher
		}
		c.mu.RUnlock()
		if fetcher == nil {
			continue
		}
		if _, err := c.load(ctx, key, fetcher); err != nil {
			errs = append(errs, fmt.Errorf("refetch %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Keys lists the keys holding a value under prefix, sorted.
func (c *Cache) Keys(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for key, current := range c.entries {
		if current.hasValue && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

type snapshotEntry struct {
	value     any
	hasValue  bool
	fetchedAt time.Time
	stale     bool
}

// Snapshot is a verbatim copy of some cache entries taken before a mutation.
type Snapshot struct {
	entries map[string]snapshotEntry
}

func (c *Cache) Snapshot(keys ...string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := Snapshot{entries: make(map[string]snapshotEntry, len(keys))}
	for _, key := range keys {
		current, ok := c.entries[key]
		if !ok {
			snapshot.entries[key] = snapshotEntry{}
			continue
		}
		snapshot.entries[key] = snapshotEntry{
			value:     current.value,
			hasValue:  current.hasValue,
			fetchedAt: current.fetchedAt,
			stale:     current.stale,
		}
	}
	return snapshot
}

// Value returns the value key held when the snapshot was taken.
func (s Snapshot) Value(key string) (any, bool) {
	saved, ok := s.entries[key]
	if !ok || !saved.hasValue {
		return nil, false
	}
	return saved.value, true
}

// Restore puts every snapshotted entry back exactly as it was.
func (c *Cache) Restore(snapshot Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, saved := range snapshot.entries {
		current := c.entryLocked(key)
		current.value = saved.value
		current.hasValue = saved.hasValue
		current.fetchedAt = saved.fetchedAt
		current.stale = saved.stale
	}
}

func (c *Cache) entryLocked(key string) *entry {
	current, ok := c.entries[key]
	if !ok {
		current = &entry{}
		c.entries[key] = current
	}
	return current
}
