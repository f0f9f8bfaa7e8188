package cache

import (
	"context"
	"sync"
	"time"

	"github.com/smartbag/commerce/internal/domain"
)

type memoryEntry struct {
	value     any
	expiresAt time.Time
}

// MemoryStore — in-memory реализация domain.CacheStore для локальной
// разработки и тестов. Истечение проверяется лениво при чтении.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore создаёт пустой in-memory кеш.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// WithClock подменяет источник времени; нужен тестам истечения.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return true
}

func (s *MemoryStore) Delete(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return true
}

func (s *MemoryStore) GetMany(ctx context.Context, keys []string) map[string]any {
	result := make(map[string]any, len(keys))
	for _, key := range keys {
		if value, ok := s.Get(ctx, key); ok {
			result[key] = value
		}
	}
	return result
}

func (s *MemoryStore) Increment(_ context.Context, key string, amount int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		entry = memoryEntry{}
		ok = false
	}

	current, _ := entry.value.(int64)
	current += amount
	if !ok {
		entry = memoryEntry{}
	}
	entry.value = current
	s.entries[key] = entry
	return current, true
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return false
	}
	// Неположительный TTL удаляет ключ, как EXPIRE в Redis.
	if ttl <= 0 {
		delete(s.entries, key)
		return true
	}
	entry.expiresAt = s.now().Add(ttl)
	s.entries[key] = entry
	return true
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expiresAt.IsZero() {
		return 0, false
	}
	remaining := entry.expiresAt.Sub(s.now())
	if remaining <= 0 {
		delete(s.entries, key)
		return 0, false
	}
	return remaining, true
}

var _ domain.CacheStore = (*MemoryStore)(nil)
