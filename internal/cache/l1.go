package cache

import (
	"sort"
	"sync"
	"time"
)

type l1Entry struct {
	value     []byte
	expiresAt time.Time
	createdAt time.Time
}

// l1Store is the in-process tier: a bounded map guarded by one mutex.
// Eviction drops expired entries first; if the store is still full it drops
// the oldest 20% by creation time.
type l1Store struct {
	mu      sync.Mutex
	entries map[string]l1Entry
	maxSize int
}

func newL1Store(maxSize int) *l1Store {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &l1Store{
		entries: make(map[string]l1Entry),
		maxSize: maxSize,
	}
}

// get returns the value for key. Expired entries are treated as misses and
// deleted lazily.
func (s *l1Store) get(key string, now time.Time) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (s *l1Store) set(key string, value []byte, ttl time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxSize {
		s.evictLocked(now)
	}

	s.entries[key] = l1Entry{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

func (s *l1Store) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// deletePrefix removes every entry whose key starts with any of the prefixes.
func (s *l1Store) deletePrefix(prefixes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		for _, prefix := range prefixes {
			if hasPrefix(key, prefix) {
				delete(s.entries, key)
				break
			}
		}
	}
}

// purgeExpired drops all expired entries. Returns the number removed.
func (s *l1Store) purgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *l1Store) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked makes room: expired entries go first, then the oldest 20% by
// creation time. Caller holds the mutex.
func (s *l1Store) evictLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.maxSize {
		return
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for key, entry := range s.entries {
		all = append(all, aged{key, entry.createdAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].createdAt.Before(all[j].createdAt)
	})

	drop := len(all) / 5
	if drop < 1 {
		drop = 1
	}
	for _, entry := range all[:drop] {
		delete(s.entries, entry.key)
	}
}

func hasPrefix(key, prefix string) bool {
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}
