package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// LRUCache is an in-process Cache with TTL and a size bound.
// It backs the result cache when no Redis address is configured.
type LRUCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries. ttl is the
// default expiry used when Set is called with a zero ttl.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LRUCache{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *LRUCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", nil
	}
	entry := elem.Value.(*lruEntry)
	if c.expired(entry) {
		c.removeElement(elem)
		return "", nil
	}
	c.order.MoveToFront(elem)
	return entry.value, nil
}

func (c *LRUCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp := time.Time{}
	if ttl == 0 {
		ttl = c.ttl
	}
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = exp
		c.order.MoveToFront(elem)
		return nil
	}

	entry := &lruEntry{key: key, value: value, expiresAt: exp}
	c.items[key] = c.order.PushFront(entry)
	if len(c.items) > c.maxSize {
		c.evictOldest()
	}
	return nil
}

func (c *LRUCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if elem, ok := c.items[key]; ok {
			c.removeElement(elem)
		}
	}
	return nil
}

func (c *LRUCache) Exists(_ context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for _, key := range keys {
		if elem, ok := c.items[key]; ok && !c.expired(elem.Value.(*lruEntry)) {
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache) Ping(context.Context) error { return nil }

func (c *LRUCache) Close() error { return nil }

func (c *LRUCache) expired(entry *lruEntry) bool {
	return !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)
}

func (c *LRUCache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
}

func (c *LRUCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}
