package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// memoryItem 单条缓存记录，JSON编码后存储以与Redis实现行为一致
type memoryItem struct {
	data      []byte
	expiresAt time.Time
	accessed  time.Time
}

func (it *memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// MemoryCache is the in-process fallback used when Redis is unavailable:
// same JSON value semantics, LRU eviction above maxSize, background sweep of
// expired entries.
type MemoryCache struct {
	mu      sync.RWMutex
	items   map[string]*memoryItem
	maxSize int
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a memory cache. maxSize <= 0 means unbounded.
func NewMemoryCache(maxSize int) *MemoryCache {
	mc := &MemoryCache{
		items:   make(map[string]*memoryItem),
		maxSize: maxSize,
		stop:    make(chan struct{}),
	}
	go mc.cleanupLoop()
	return mc
}

// Get retrieves a JSON-encoded value into dest.
func (mc *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.items[key]
	if ok && item.expired(time.Now()) {
		delete(mc.items, key)
		ok = false
	}
	if ok {
		item.accessed = time.Now()
	}
	mc.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(item.data, dest); err != nil {
		return fmt.Errorf("failed to decode cached value for %s: %w", key, err)
	}
	return nil
}

// Set stores a JSON-encoded value with an expiration.
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	now := time.Now()
	item := &memoryItem{data: data, accessed: now}
	if expiration > 0 {
		item.expiresAt = now.Add(expiration)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.maxSize > 0 && len(mc.items) >= mc.maxSize {
		if _, exists := mc.items[key]; !exists {
			mc.evictLRU()
		}
	}
	mc.items[key] = item
	return nil
}

// Delete removes a key.
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.items, key)
	return nil
}

// Exists reports whether a key is present and unexpired.
func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	mc.mu.RLock()
	item, ok := mc.items[key]
	mc.mu.RUnlock()
	if !ok || item.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// Size returns the number of entries, expired included.
func (mc *MemoryCache) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.items)
}

// HealthCheck always succeeds for the in-process cache.
func (mc *MemoryCache) HealthCheck(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

// evictLRU drops the least recently accessed entry. Caller holds the lock.
func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestAt time.Time
	for key, item := range mc.items {
		if oldestKey == "" || item.accessed.Before(oldestAt) {
			oldestKey = key
			oldestAt = item.accessed
		}
	}
	if oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}

func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stop:
			return
		}
	}
}

func (mc *MemoryCache) cleanup() {
	now := time.Now()
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key, item := range mc.items {
		if item.expired(now) {
			delete(mc.items, key)
		}
	}
}
