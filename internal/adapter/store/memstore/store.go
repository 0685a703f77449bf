// Package memstore implements domain.KVStore in process memory.
package memstore

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

type record struct {
	value   []byte
	expires time.Time // zero => no TTL
	written time.Time
}

func (r record) live(now time.Time) bool {
	return r.expires.IsZero() || now.Before(r.expires)
}

// Store is a mutex-protected map. Every operation runs under the lock, so
// compare-and-swap is atomic within the process. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	m          map[string]record
	maxEntries int
	now        func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithMaxEntries bounds the map. On overflow expired records are dropped
// first; only when none are expired is the oldest written live record evicted.
// Values <= 0 leave the map unbounded.
func WithMaxEntries(n int) Option { return func(s *Store) { s.maxEntries = n } }

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{m: make(map[string]record), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns a copy of the live value for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[key]
	if !ok || !r.live(s.now()) {
		return nil, false, nil
	}
	return bytes.Clone(r.value), true, nil
}

// Set unconditionally overwrites key.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

// CompareAndSwap writes value when the current live value equals old.
// A nil old matches only an absent (or expired) key.
func (s *Store) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.m[key]
	present := ok && r.live(s.now())
	switch {
	case old == nil && present:
		return false, nil
	case old != nil && (!present || !bytes.Equal(r.value, old)):
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

// Len reports the number of records, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Sweep drops expired records and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropExpired(s.now())
}

// dropExpired must be called with mu held.
func (s *Store) dropExpired(now time.Time) int {
	n := 0
	for k, r := range s.m {
		if !r.live(now) {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("memstore swept expired records", slog.Int("removed", n), slog.Int("remaining", s.Len()))
			}
		}
	}
}

// put must be called with mu held.
func (s *Store) put(key string, value []byte, ttl time.Duration) {
	now := s.now()
	rec := record{value: bytes.Clone(value), written: now}
	if ttl > 0 {
		rec.expires = now.Add(ttl)
	}
	if _, exists := s.m[key]; !exists && s.maxEntries > 0 && len(s.m) >= s.maxEntries {
		if s.dropExpired(now) == 0 {
			s.evictOldest()
		}
	}
	s.m[key] = rec
}

// evictOldest is O(n); it only runs when the bound is hit.
func (s *Store) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, r := range s.m {
		if !found || r.written.Before(oldest) {
			oldestKey, oldest, found = k, r.written, true
		}
	}
	if found {
		delete(s.m, oldestKey)
	}
}
