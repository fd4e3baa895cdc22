package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: map[string][]byte{}}
}

func (s *MemoryStorage) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("core: storage is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := s.entries[strings.TrimSpace(key)]; ok {
			out[key] = append([]byte(nil), value...)
		}
	}
	return out, nil
}

func (s *MemoryStorage) Set(_ context.Context, values map[string][]byte) error {
	if s == nil {
		return fmt.Errorf("core: storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("core: storage key is required")
		}
		s.entries[key] = append([]byte(nil), value...)
	}
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	if s == nil {
		return fmt.Errorf("core: storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, strings.TrimSpace(key))
	}
	return nil
}

func (s *MemoryStorage) Clear(context.Context) error {
	if s == nil {
		return fmt.Errorf("core: storage is not configured")
	}
	s.mu.Lock()
	s.entries = map[string][]byte{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
