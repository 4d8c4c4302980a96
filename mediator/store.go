package mediator

import (
	"sort"
	"strings"
	"sync"
)

// Store holds all relay state: session records, ceremony start markers and
// relayed messages, each under a string key. Entries never expire; they are
// removed only by an explicit delete or when the relay shuts down.
type Store struct {
	mu    sync.RWMutex
	items map[string]any
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]any),
	}
}

func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[key]
	return ok
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// SetMulti stores every entry under a single lock acquisition, so a
// multi-recipient message deposit is all-or-nothing.
func (s *Store) SetMulti(entries map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.items[k] = v
	}
}

// Update applies fn to the current value for key while holding the write
// lock and stores the result. fn receives the existing value and whether
// one was present, making read-modify-write sequences atomic.
func (s *Store) Update(key string, fn func(value any, ok bool) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	s.items[key] = fn(v, ok)
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// KeysWithPrefix returns every stored key starting with prefix, sorted.
func (s *Store) KeysWithPrefix(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clear drops everything. Used on relay shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]any)
}
