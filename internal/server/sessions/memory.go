package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/revpass/passkeeper/internal/common"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store used when no Redis is configured.
// Expired items are dropped lazily on access.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{value: b, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string, dst any) error {
	s.mu.Lock()
	item, ok := s.lookup(key)
	s.mu.Unlock()

	if !ok {
		return common.ErrSessionNotFound
	}
	return decode(item.value, dst)
}

func (s *MemoryStore) Take(ctx context.Context, key string, dst any) error {
	s.mu.Lock()
	item, ok := s.lookup(key)
	delete(s.items, key)
	s.mu.Unlock()

	if !ok {
		return common.ErrSessionNotFound
	}
	return decode(item.value, dst)
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}
