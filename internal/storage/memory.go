package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory ObjectStore used by tests and local runs
// without a bucket.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailKeys makes operations on matching keys fail, for exercising
	// partial-failure paths.
	FailKeys map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) failing(key string) bool {
	return s.FailKeys != nil && s.FailKeys[key]
}

func (s *MemStore) PutJSON(_ context.Context, key string, v any) error {
	if s.failing(key) {
		return fmt.Errorf("put %s: injected failure", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *MemStore) GetJSON(_ context.Context, key string, v any) error {
	if s.failing(key) {
		return fmt.Errorf("get %s: injected failure", key)
	}
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (s *MemStore) Exists(_ context.Context, key string) (bool, error) {
	if s.failing(key) {
		return false, fmt.Errorf("stat %s: injected failure", key)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemStore) RemoveAll(_ context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, key := range keys {
		if _, ok := s.objects[key]; ok {
			delete(s.objects, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://mem.invalid/upload/" + key, nil
}

// PutRaw seeds an object without going through JSON, for tests.
func (s *MemStore) PutRaw(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
