// Package respcache caches upstream chat replies keyed by the message sequence.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/domain"
)

// Cache stores replies in a domain.KVStore with a fixed TTL.
type Cache struct {
	store domain.KVStore
	ttl   time.Duration
	now   func() time.Time
}

// New returns a cache whose entries stay valid for ttl.
func New(store domain.KVStore, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// WithClock overrides time.Now, mainly for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Key derives the canonical cache key of a message sequence. Sequences that
// serialise to the same bytes share a key.
func Key(msgs []domain.ChatMessage) string {
	b, _ := json.Marshal(msgs)
	h := sha256.Sum256(b)
	return "chat:" + hex.EncodeToString(h[:])
}

// Lookup returns the cached reply while now < expiry. Stale entries are
// reported as a miss and left in place.
func (c *Cache) Lookup(ctx context.Context, key string) (domain.ChatMessage, bool, error) {
	if c == nil || c.store == nil || c.ttl <= 0 {
		return domain.ChatMessage{}, false, nil
	}
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return domain.ChatMessage{}, false, fmt.Errorf("op=respcache.Lookup: %w", err)
	}
	if !found {
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return domain.ChatMessage{}, false, nil
	}
	var e domain.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("ignoring unreadable cache entry", slog.String("key", key), slog.Any("error", err))
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return domain.ChatMessage{}, false, nil
	}
	if !e.Valid(c.now()) {
		observability.CacheLookupsTotal.WithLabelValues("stale").Inc()
		return domain.ChatMessage{}, false, nil
	}
	observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return e.Data, true, nil
}

// Store overwrites any entry at key with expiry = now + ttl.
func (c *Cache) Store(ctx context.Context, key string, msg domain.ChatMessage) error {
	if c == nil || c.store == nil || c.ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(domain.CacheEntry{Data: msg, Expiry: c.now().Add(c.ttl)})
	if err != nil {
		return fmt.Errorf("op=respcache.Store: encode: %w", err)
	}
	if err := c.store.Set(ctx, key, b, c.ttl); err != nil {
		return fmt.Errorf("op=respcache.Store: %w", err)
	}
	return nil
}
