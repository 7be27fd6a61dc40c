// Package resultcache stores run result payloads keyed by their content
// hash. Run status rows reference results by hash only, keeping large
// payloads out of the reactive state graph; the view resolves lazily
// through this cache.
package resultcache

import (
	"container/list"
	"context"
	"os"
	"strings"
	"sync"
	"time"
)

// Cache resolves result payloads by content hash. Implementations tolerate
// misses; a missing payload renders as unavailable, never as an error.
type Cache interface {
	Get(ctx context.Context, hash string) ([]byte, bool)
	Put(ctx context.Context, hash string, payload []byte)
}

// NewFromEnv picks the Redis backend when RESULT_CACHE_REDIS_URL is set,
// otherwise an in-memory LRU.
func NewFromEnv() Cache {
	if url := strings.TrimSpace(os.Getenv("RESULT_CACHE_REDIS_URL")); url != "" {
		if cache, err := NewRedis(url); err == nil {
			return cache
		}
	}
	return NewMemory(1024, 32<<20, 30*time.Minute)
}

type memEntry struct {
	hash      string
	payload   []byte
	expiresAt time.Time
}

// Memory is a threadsafe LRU cache with TTL and byte budget.
type Memory struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[string]*list.Element
	maxEntries int
	maxBytes   int
	totalBytes int
	ttl        time.Duration
}

func NewMemory(maxEntries, maxBytes int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Memory{
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
	}
}

func (c *Memory) Get(_ context.Context, hash string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[hash]
	if !ok {
		return nil, false
	}
	ent := ele.Value.(*memEntry)
	if time.Now().After(ent.expiresAt) {
		c.removeElement(ele)
		return nil, false
	}
	c.ll.MoveToFront(ele)
	return ent.payload, true
}

func (c *Memory) Put(_ context.Context, hash string, payload []byte) {
	if c == nil || strings.TrimSpace(hash) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[hash]; ok {
		ent := ele.Value.(*memEntry)
		c.totalBytes -= len(ent.payload)
		ent.payload = payload
		ent.expiresAt = time.Now().Add(c.ttl)
		c.totalBytes += len(payload)
		c.ll.MoveToFront(ele)
		c.evictLocked()
		return
	}
	ent := &memEntry{hash: hash, payload: payload, expiresAt: time.Now().Add(c.ttl)}
	ele := c.ll.PushFront(ent)
	c.items[hash] = ele
	c.totalBytes += len(payload)
	c.evictLocked()
}

func (c *Memory) evictLocked() {
	for {
		if c.ll.Len() == 0 {
			return
		}
		if c.ll.Len() <= c.maxEntries && (c.maxBytes <= 0 || c.totalBytes <= c.maxBytes) {
			return
		}
		c.removeElement(c.ll.Back())
	}
}

func (c *Memory) removeElement(ele *list.Element) {
	if ele == nil {
		return
	}
	c.ll.Remove(ele)
	ent := ele.Value.(*memEntry)
	delete(c.items, ent.hash)
	c.totalBytes -= len(ent.payload)
	if c.totalBytes < 0 {
		c.totalBytes = 0
	}
}
