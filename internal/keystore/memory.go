package keystore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is the in-memory KeyStore fixture required for tests: it
// honors the same cache-probe / rate-limit-charge contract as RedisStore
// without needing a live Redis, and lets tests seed records directly and
// force StoreError on demand.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]KeyInfo
	buckets map[string]*bucket
	cache   *keyCache

	forceStoreErr bool
	lookupCount   int
}

type bucket struct {
	second int64
	count  int64
}

// NewMemoryStore returns an empty MemoryStore ready for seeding via Add.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]KeyInfo),
		buckets: make(map[string]*bucket),
		cache:   newKeyCache(1024),
	}
}

// Add seeds or replaces a key record.
func (s *MemoryStore) Add(key string, info KeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = info
}

// Delete removes a key record and its rate bucket.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	delete(s.buckets, key)
}

// List returns all currently-seeded keys.
func (s *MemoryStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys
}

// LookupCount returns how many times the backing record map was consulted
// (i.e. cache misses), for asserting cache-freshness behavior in tests.
func (s *MemoryStore) LookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupCount
}

// SetStoreError toggles whether subsequent ValidateKey calls return
// StatusStoreError wherever RedisStore would make a remote call (a cache
// miss, or a rate-limit charge), simulating a remote store outage. A cache
// hit on a key with RateLimitRPS 0 still returns StatusValid.
func (s *MemoryStore) SetStoreError(forced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceStoreErr = forced
}

// ValidateKey implements KeyStore with the same semantics as RedisStore.
func (s *MemoryStore) ValidateKey(_ context.Context, key string) Outcome {
	if info, cached := s.cache.get(key); cached {
		if !info.Active {
			return Outcome{Status: StatusInvalid}
		}
		return s.chargeAndFinish(key, info)
	}

	s.mu.Lock()
	if s.forceStoreErr {
		s.mu.Unlock()
		return Outcome{Status: StatusStoreError, Err: errors.New("keystore: simulated store error")}
	}
	info, ok := s.records[key]
	s.lookupCount++
	s.mu.Unlock()

	if !ok || !info.Active {
		return Outcome{Status: StatusInvalid}
	}
	s.cache.set(key, info)
	return s.chargeAndFinish(key, info)
}

func (s *MemoryStore) chargeAndFinish(key string, info KeyInfo) Outcome {
	if info.RateLimitRPS == 0 {
		return Outcome{Status: StatusValid, Info: info}
	}

	s.mu.Lock()
	if s.forceStoreErr {
		s.mu.Unlock()
		return Outcome{Status: StatusStoreError, Err: errors.New("keystore: simulated store error")}
	}
	now := time.Now().Unix()
	b, ok := s.buckets[key]
	if !ok || b.second != now {
		b = &bucket{second: now}
		s.buckets[key] = b
	}
	b.count++
	count := b.count
	s.mu.Unlock()

	if count > info.RateLimitRPS {
		return Outcome{Status: StatusRateLimited}
	}
	return Outcome{Status: StatusValid, Info: info}
}
