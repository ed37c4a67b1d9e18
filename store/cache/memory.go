package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryConfig holds the settings of the in-process cache tier.
type MemoryConfig struct {
	DefaultTTL      time.Duration // TTL applied when SetWithTTL gets ttl <= 0
	CleanupInterval time.Duration // how often the janitor removes expired items
	MaxItems        int           // maximum number of items; 0 means unbounded
}

// DefaultMemoryConfig returns the default in-process cache settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DefaultTTL:      30 * time.Minute,
		CleanupInterval: time.Minute,
		MaxItems:        1000,
	}
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// Memory is the process-local cache tier. TTL is enforced by a janitor
// goroutine; all operations are safe for concurrent use.
type Memory struct {
	config MemoryConfig

	mu    sync.RWMutex
	items map[string]*memoryItem

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a memory cache and starts its janitor.
func NewMemory(config MemoryConfig) *Memory {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	m := &Memory{
		config: config,
		items:  make(map[string]*memoryItem),
		stop:   make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Get returns the value for key, or found=false when absent or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || item.expired(time.Now()) {
		return nil, false, nil
	}
	return item.value, true, nil
}

// SetWithTTL stores value under key for ttl. A non-positive ttl falls back to
// the configured default TTL.
func (m *Memory) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxItems > 0 && len(m.items) >= m.config.MaxItems {
		if _, exists := m.items[key]; !exists {
			m.evictOldestLocked()
		}
	}
	m.items[key] = &memoryItem{value: value, expiresAt: expiresAt}
	return nil
}

// Exists reports whether key is present and unexpired.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := m.Get(ctx, key)
	return found, err
}

// Delete removes key if present.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// ListKeys returns all unexpired keys with the given prefix.
func (m *Memory) ListKeys(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for key, item := range m.items {
		if item.expired(now) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Size returns the current number of items, including not-yet-reaped expired ones.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Close stops the janitor and drops all items.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	m.items = make(map[string]*memoryItem)
	m.mu.Unlock()
	return nil
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) reapExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, item := range m.items {
		if item.expired(now) {
			delete(m.items, key)
		}
	}
}

// evictOldestLocked removes the item closest to expiry to make room. Items
// without an expiry count as farthest from expiry and are only evicted when
// every item is expiry-less. Caller must hold m.mu.
func (m *Memory) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, item := range m.items {
		if oldestKey == "" {
			oldestKey = key
			oldest = item.expiresAt
			continue
		}
		if item.expiresAt.IsZero() {
			continue
		}
		if oldest.IsZero() || item.expiresAt.Before(oldest) {
			oldestKey = key
			oldest = item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(m.items, oldestKey)
	}
}
