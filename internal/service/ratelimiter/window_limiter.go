// Package ratelimiter implements per-source fixed-window request quotas.
package ratelimiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/domain"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// maxSwapAttempts bounds the compare-and-swap loop under contention.
const maxSwapAttempts = 16

// WindowLimiter counts requests per key in fixed windows kept in a domain.KVStore.
// The read-modify-write is a compare-and-swap loop, so it stays correct when the
// store is shared by several goroutines or several server instances.
type WindowLimiter struct {
	store  domain.KVStore
	max    int
	window time.Duration
	now    func() time.Time
}

// NewWindowLimiter allows max requests per window for each key.
func NewWindowLimiter(store domain.KVStore, max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{store: store, max: max, window: window, now: time.Now}
}

// WithClock overrides time.Now, mainly for tests.
func (l *WindowLimiter) WithClock(now func() time.Time) *WindowLimiter {
	l.now = now
	return l
}

func storeKey(key string) string { return "rate:" + key }

// Allow consumes one unit of quota for key. A rejected request does not
// mutate the entry. retryAfter is the time left until the window resets.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.store == nil || l.max <= 0 || l.window <= 0 {
		return true, 0, nil
	}
	sk := storeKey(key)
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		raw, found, err := l.store.Get(ctx, sk)
		if err != nil {
			return false, 0, fmt.Errorf("op=ratelimiter.Allow: read: %w", err)
		}
		now := l.now()
		entry, err := l.decode(raw, found, now)
		if err != nil {
			slog.Warn("discarding unreadable rate limit entry", slog.String("key", key), slog.Any("error", err))
			entry = domain.RateLimitEntry{ResetAt: now.Add(l.window)}
		}
		entry = l.roll(entry, now)

		if entry.Count >= l.max {
			observability.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
			return false, entry.ResetAt.Sub(now), nil
		}

		entry.Count++
		next, err := json.Marshal(entry)
		if err != nil {
			return false, 0, fmt.Errorf("op=ratelimiter.Allow: encode: %w", err)
		}
		var old []byte
		if found {
			old = raw
		}
		swapped, err := l.store.CompareAndSwap(ctx, sk, old, next, entry.ResetAt.Sub(now))
		if err != nil {
			return false, 0, fmt.Errorf("op=ratelimiter.Allow: swap: %w", err)
		}
		if swapped {
			observability.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
			return true, 0, nil
		}
	}
	return false, 0, fmt.Errorf("%w: op=ratelimiter.Allow: contention on %q", domain.ErrInternal, key)
}

// peek returns the current entry for key without consuming quota.
func (l *WindowLimiter) peek(ctx context.Context, key string) (domain.RateLimitEntry, bool, error) {
	raw, found, err := l.store.Get(ctx, storeKey(key))
	if err != nil || !found {
		return domain.RateLimitEntry{}, false, err
	}
	var e domain.RateLimitEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.RateLimitEntry{}, false, fmt.Errorf("op=ratelimiter.peek: %w", err)
	}
	return l.roll(e, l.now()), true, nil
}

func (l *WindowLimiter) decode(raw []byte, found bool, now time.Time) (domain.RateLimitEntry, error) {
	if !found {
		return domain.RateLimitEntry{Count: 0, ResetAt: now.Add(l.window)}, nil
	}
	var e domain.RateLimitEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.RateLimitEntry{}, err
	}
	return e, nil
}

// roll resets the count once now reaches ResetAt and advances ResetAt by
// whole windows until it lies in the future.
func (l *WindowLimiter) roll(e domain.RateLimitEntry, now time.Time) domain.RateLimitEntry {
	if now.Before(e.ResetAt) {
		return e
	}
	e.Count = 0
	if e.ResetAt.IsZero() {
		e.ResetAt = now.Add(l.window)
		return e
	}
	windows := now.Sub(e.ResetAt)/l.window + 1
	e.ResetAt = e.ResetAt.Add(windows * l.window)
	return e
}
