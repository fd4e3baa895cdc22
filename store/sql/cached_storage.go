package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/goliatone/go-paygrants/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const stateCacheKeyPrefix = "go-paygrants::state::v1"

// cachedEntry records absence too, so a missing key is not refetched on
// every read.
type cachedEntry struct {
	Value   []byte
	Present bool
}

// CachedStorage puts a read-through cache in front of a Storage. Writes go
// to the base storage first and then invalidate the touched keys.
type CachedStorage struct {
	base      core.Storage
	cache     repositorycache.CacheService
	namespace string

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewCachedStorage(base core.Storage, cacheService repositorycache.CacheService, namespace string) (*CachedStorage, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base storage is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: state cache service is required")
	}
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	return &CachedStorage{
		base:      base,
		cache:     cacheService,
		namespace: ns,
		seen:      map[string]struct{}{},
	}, nil
}

// StateCacheKey returns go-paygrants::state::v1::<namespace>::<key> with
// each segment URL-path escaped.
func StateCacheKey(namespace, key string) string {
	return strings.Join([]string{
		stateCacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(namespace)),
		url.PathEscape(strings.TrimSpace(key)),
	}, "::")
}

func (s *CachedStorage) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached storage is not configured")
	}
	wanted := normalizeKeys(keys)
	out := make(map[string][]byte, len(wanted))
	for _, key := range wanted {
		s.remember(key)
		entry, err := repositorycache.GetOrFetch(ctx, s.cache, StateCacheKey(s.namespace, key), func(ctx context.Context) (cachedEntry, error) {
			values, err := s.base.Get(ctx, key)
			if err != nil {
				return cachedEntry{}, err
			}
			value, ok := values[key]
			return cachedEntry{Value: append([]byte(nil), value...), Present: ok}, nil
		})
		if err != nil {
			return nil, err
		}
		if entry.Present {
			out[key] = append([]byte(nil), entry.Value...)
		}
	}
	return out, nil
}

func (s *CachedStorage) Set(ctx context.Context, values map[string][]byte) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached storage is not configured")
	}
	if err := s.base.Set(ctx, values); err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return s.invalidate(ctx, normalizeKeys(keys))
}

func (s *CachedStorage) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached storage is not configured")
	}
	if err := s.base.Delete(ctx, keys...); err != nil {
		return err
	}
	return s.invalidate(ctx, normalizeKeys(keys))
}

func (s *CachedStorage) Clear(ctx context.Context) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached storage is not configured")
	}
	if err := s.base.Clear(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.seen))
	for key := range s.seen {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	return s.invalidate(ctx, keys)
}

func (s *CachedStorage) remember(key string) {
	s.mu.Lock()
	s.seen[key] = struct{}{}
	s.mu.Unlock()
}

func (s *CachedStorage) invalidate(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.cache.Delete(ctx, StateCacheKey(s.namespace, key)); err != nil {
			return err
		}
	}
	return nil
}
