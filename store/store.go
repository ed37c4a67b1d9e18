// Package store provides the session registry and its tiered persistence:
// an in-memory cache, an optional shared Redis cache, and the durable store
// behind the Driver interface. The store is the only permitted mutator of
// session state; writes hit the durable tier synchronously and the cache
// tiers best effort.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/chatbridge/internal/profile"
	"github.com/hrygo/chatbridge/store/cache"
)

// Store mediates all reads and writes of relay state across the storage tiers.
type Store struct {
	profile *profile.Profile
	driver  Driver

	memory cache.KV // L1, always present
	shared cache.KV // L2, nil when Redis is not configured

	sessionTTL time.Duration

	// locks serializes read-modify-write sequences per conversation.
	locks sync.Map // conversationID -> *sync.Mutex
}

// New creates a store over the given durable driver. shared may be nil.
func New(driver Driver, p *profile.Profile, shared cache.KV) *Store {
	sessionTTL := 30 * time.Minute
	if p != nil && p.SessionCacheTTL > 0 {
		sessionTTL = p.SessionCacheTTL
	}

	return &Store{
		profile: p,
		driver:  driver,
		memory: cache.NewMemory(cache.MemoryConfig{
			DefaultTTL:      sessionTTL,
			CleanupInterval: time.Minute,
			MaxItems:        1000,
		}),
		shared:     shared,
		sessionTTL: sessionTTL,
	}
}

// GetDriver returns the durable driver.
func (s *Store) GetDriver() Driver {
	return s.driver
}

// Ping verifies durable store connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

// Migrate creates the schema if needed.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

// Close releases the cache tiers and the durable connection.
func (s *Store) Close() error {
	_ = s.memory.Close()
	if s.shared != nil {
		_ = s.shared.Close()
	}
	return s.driver.Close()
}

// lockConversation acquires the per-conversation mutex and returns the unlock.
func (s *Store) lockConversation(conversationID string) func() {
	value, _ := s.locks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
