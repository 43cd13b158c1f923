package cache

import (
	"context"
	"sync"
	"time"
)

type memItem struct {
	v       []byte
	expires time.Time
	noexp   bool
}

// MemoryStore is the in-process fallback when Redis is not configured. With
// MaxEntries set, a full store drops expired items first and then the item
// closest to expiry.
type MemoryStore struct {
	MaxEntries int

	mu    sync.RWMutex
	items map[string]memItem
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memItem{}, now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if s.expired(it) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return clone(it.v), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	it := memItem{v: clone(value)}
	if ttl <= 0 {
		it.noexp = true
	} else {
		it.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	if _, exists := s.items[key]; !exists && s.MaxEntries > 0 && len(s.items) >= s.MaxEntries {
		s.evictLocked()
	}
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) evictLocked() {
	for k, it := range s.items {
		if s.expired(it) {
			delete(s.items, k)
		}
	}
	if len(s.items) < s.MaxEntries {
		return
	}
	victim := ""
	var soonest time.Time
	for k, it := range s.items {
		if it.noexp {
			continue
		}
		if victim == "" || it.expires.Before(soonest) {
			victim, soonest = k, it.expires
		}
	}
	if victim == "" {
		for k := range s.items {
			victim = k
			break
		}
	}
	delete(s.items, victim)
}

func (s *MemoryStore) expired(it memItem) bool {
	return !it.noexp && s.now().After(it.expires)
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
