package kv

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore implements Store on top of an in-process TTL cache.
type memoryStore struct {
	cache  *gocache.Cache
	prefix string
}

// NewMemory creates an in-process Store. Suitable for single-node
// deployments and tests.
func NewMemory(prefix string) Store {
	// No default expiration: every Set carries its own TTL. The janitor
	// interval only bounds memory reclamation; reads are TTL-correct
	// regardless.
	return &memoryStore{
		cache:  gocache.New(gocache.NoExpiration, 10*time.Minute),
		prefix: prefix,
	}
}

func (s *memoryStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.cache.Set(s.key(key), value, ttl)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.cache.Get(s.key(key))
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(s.key(key))
	return nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error {
	s.cache.Flush()
	return nil
}
