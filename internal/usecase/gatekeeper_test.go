package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelletix/sudbury-directory/internal/adapter/store/memstore"
	"github.com/intelletix/sudbury-directory/internal/domain"
	"github.com/intelletix/sudbury-directory/internal/service/ratelimiter"
	"github.com/intelletix/sudbury-directory/internal/service/respcache"
)

type fakeCompletion struct {
	mu    sync.Mutex
	calls int
	seen  [][]domain.ChatMessage
	reply domain.ChatMessage
	err   error
	delay time.Duration
}

func (f *fakeCompletion) Complete(ctx context.Context, msgs []domain.ChatMessage, _ domain.CompletionOptions) (domain.ChatMessage, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, msgs)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.ChatMessage{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.reply, f.err
}

func (f *fakeCompletion) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedCounter int

func (n fixedCounter) CountOrEstimate([]domain.ChatMessage, string) int { return int(n) }

func newGatekeeper(t *testing.T, client domain.CompletionClient, max int) (*Gatekeeper, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	lim := ratelimiter.NewWindowLimiter(store, max, time.Hour)
	cache := respcache.New(store, time.Hour)
	cfg := GatekeeperConfig{
		Limits:          domain.DefaultChatLimits(),
		MaxPromptTokens: 3000,
		UpstreamTimeout: time.Second,
		Options:         domain.CompletionOptions{Model: "gpt-3.5-turbo", MaxTokens: 800, Temperature: 0.7},
	}
	return NewGatekeeper(cfg, lim, cache, client, fixedCounter(10)), store
}

// rateEntry reads the limiter's stored counter for source.
func rateEntry(t *testing.T, store *memstore.Store, source string) (domain.RateLimitEntry, bool) {
	t.Helper()
	raw, found, err := store.Get(context.Background(), "rate:"+source)
	require.NoError(t, err)
	var e domain.RateLimitEntry
	if found {
		require.NoError(t, json.Unmarshal(raw, &e))
	}
	return e, found
}

func user(s string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: s}}
}

func TestChat_DispatchesWithPersonaAndCaches(t *testing.T) {
	fc := &fakeCompletion{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "<p>Voici</p>"}}
	g, _ := newGatekeeper(t, fc, 50)
	ctx := context.Background()

	got, err := g.Chat(ctx, "1.1.1.1", user("restaurants"))
	require.NoError(t, err)
	assert.Equal(t, "<p>Voici</p>", got.Content)
	require.Len(t, fc.seen, 1)
	assert.Equal(t, domain.RoleSystem, fc.seen[0][0].Role)
	assert.Equal(t, Persona, fc.seen[0][0].Content)
	assert.Equal(t, user("restaurants")[0], fc.seen[0][1])

	again, err := g.Chat(ctx, "1.1.1.1", user("restaurants"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, fc.Calls(), "second identical request is served from cache")
}

func TestChat_RateLimitAfterMax(t *testing.T) {
	fc := &fakeCompletion{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "ok"}}
	g, store := newGatekeeper(t, fc, 50)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := g.Chat(ctx, "9.9.9.9", user("q"))
		require.NoError(t, err)
	}
	_, err := g.Chat(ctx, "9.9.9.9", user("q"))
	require.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *domain.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	e, _ := rateEntry(t, store, "9.9.9.9")
	assert.Equal(t, 50, e.Count)
	assert.Equal(t, 1, fc.Calls(), "cache hits still count against the quota")
}

func TestChat_ValidationSkipsLimiterAndUpstream(t *testing.T) {
	fc := &fakeCompletion{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "ok"}}
	g, store := newGatekeeper(t, fc, 50)
	ctx := context.Background()

	_, err := g.Chat(ctx, "a", nil)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = g.Chat(ctx, "a", []domain.ChatMessage{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, found := rateEntry(t, store, "a")
	assert.False(t, found)
	assert.Zero(t, fc.Calls())
}

func TestChat_PromptBudget(t *testing.T) {
	fc := &fakeCompletion{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "ok"}}
	g, _ := newGatekeeper(t, fc, 50)
	g.tokens = fixedCounter(5000)
	_, err := g.Chat(context.Background(), "a", user("long"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "too long")
	assert.Zero(t, fc.Calls())
}

func TestChat_UpstreamTimeout(t *testing.T) {
	fc := &fakeCompletion{delay: time.Second, reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "late"}}
	g, _ := newGatekeeper(t, fc, 50)
	g.cfg.UpstreamTimeout = 30 * time.Millisecond

	start := time.Now()
	_, err := g.Chat(context.Background(), "a", user("x"))
	require.ErrorIs(t, err, domain.ErrUpstreamTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChat_UpstreamErrorsAreNotCached(t *testing.T) {
	fc := &fakeCompletion{err: domain.ErrUpstreamUnavailable}
	g, _ := newGatekeeper(t, fc, 50)
	ctx := context.Background()

	_, err := g.Chat(ctx, "a", user("x"))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	fc.err = nil
	fc.reply = domain.ChatMessage{Role: domain.RoleAssistant, Content: "now ok"}
	got, err := g.Chat(ctx, "a", user("x"))
	require.NoError(t, err)
	assert.Equal(t, "now ok", got.Content)
	assert.Equal(t, 2, fc.Calls())
}

func TestChat_EmptyReply(t *testing.T) {
	fc := &fakeCompletion{reply: domain.ChatMessage{Role: domain.RoleAssistant}}
	g, _ := newGatekeeper(t, fc, 50)
	_, err := g.Chat(context.Background(), "a", user("x"))
	require.ErrorIs(t, err, domain.ErrUpstreamEmpty)
}

func TestChat_CleansRolesBeforeKeying(t *testing.T) {
	fc := &fakeCompletion{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "ok"}}
	g, _ := newGatekeeper(t, fc, 50)
	ctx := context.Background()

	_, err := g.Chat(ctx, "a", []domain.ChatMessage{{Content: "x"}})
	require.NoError(t, err)
	_, err = g.Chat(ctx, "a", []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, fc.Calls())
}

func TestDispatch_NoClient(t *testing.T) {
	g, _ := newGatekeeper(t, nil, 50)
	g.client = nil
	_, err := g.DispatchToCompletionAPI(context.Background(), user("x"), domain.CompletionOptions{})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
