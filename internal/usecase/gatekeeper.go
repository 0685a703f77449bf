// Package usecase contains application business logic services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intelletix/sudbury-directory/internal/domain"
	"github.com/intelletix/sudbury-directory/internal/observability"
	"github.com/intelletix/sudbury-directory/internal/service/ratelimiter"
	"github.com/intelletix/sudbury-directory/internal/service/respcache"
)

// Persona is the system prompt prepended to every upstream call.
const Persona = `Tu es un agent d'annuaire d'entreprises pour la ville de Sudbury, appelé "Sudbury Business Directory".
Tu aides les utilisateurs à trouver des entreprises et services locaux à Sudbury en fonction de leurs besoins.

INSTRUCTIONS IMPORTANTES :
- Tu as accès à une base de données d'entreprises locales à Sudbury avec leurs coordonnées, services et informations clés.
- Ton rôle est d'aider les utilisateurs à trouver les entreprises qui correspondent à leurs besoins spécifiques.
- Tu peux suggérer des entreprises par catégorie (restaurants, automobile, services, etc.).
- Tu dois fournir des informations précises et complètes sur les entreprises (adresse, téléphone, horaires, services, etc.).
- Réponds en français, sauf si l'utilisateur s'adresse à toi en anglais.
- Utilise le HTML pour structurer tes réponses de manière claire et attractive.

PRÉSENTATION DES RÉSULTATS :
- Utilise des sections clairement délimitées avec <h2>, <h3>, etc.
- Utilise des listes <ul> ou <ol> pour présenter les résultats de façon organisée.
- Mets en valeur les informations importantes avec <strong> ou <em>.
- Utilise du HTML structuré pour présenter les informations de contact.

Réponds toujours de façon utile, courtoise et professionnelle.
Tu n'as pas besoin de t'excuser de ne pas avoir accès en temps réel à Internet, car tu as déjà une base de données complète des entreprises de Sudbury.`

// TokenCounter measures the prompt size of a message sequence.
type TokenCounter interface {
	CountOrEstimate(msgs []domain.ChatMessage, model string) int
}

// GatekeeperConfig carries the tunables of the chat pipeline.
type GatekeeperConfig struct {
	Limits          domain.ChatLimits
	MaxPromptTokens int
	UpstreamTimeout time.Duration
	Options         domain.CompletionOptions
}

// Gatekeeper validates, rate limits, caches and dispatches chat requests.
type Gatekeeper struct {
	cfg     GatekeeperConfig
	limiter ratelimiter.Limiter
	cache   *respcache.Cache
	client  domain.CompletionClient
	tokens  TokenCounter
}

// NewGatekeeper wires the pipeline. tokens may be nil to skip the prompt budget.
func NewGatekeeper(cfg GatekeeperConfig, limiter ratelimiter.Limiter, cache *respcache.Cache, client domain.CompletionClient, tokens TokenCounter) *Gatekeeper {
	return &Gatekeeper{cfg: cfg, limiter: limiter, cache: cache, client: client, tokens: tokens}
}

// Chat runs the full pipeline for one request from sourceID.
// Order: validate, rate limit, cache lookup, dispatch, cache store.
func (g *Gatekeeper) Chat(ctx context.Context, sourceID string, messages []domain.ChatMessage) (domain.ChatMessage, error) {
	ctx = observability.WithLogAttrs(ctx, slog.String("source", sourceID))
	lg := observability.LoggerFromContext(ctx)
	if messages == nil {
		return domain.ChatMessage{}, domain.ValidateChatRequest(nil, g.cfg.Limits)
	}
	msgs := domain.CleanMessages(messages)
	if err := domain.ValidateChatRequest(msgs, g.cfg.Limits); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := g.checkPromptBudget(msgs); err != nil {
		return domain.ChatMessage{}, err
	}

	allowed, retryAfter, err := g.CheckAndConsumeRateLimit(ctx, sourceID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !allowed {
		lg.Info("chat request rate limited", slog.Duration("retry_after", retryAfter))
		return domain.ChatMessage{}, &domain.RateLimitError{RetryAfter: retryAfter}
	}

	key := respcache.Key(msgs)
	if cached, ok, err := g.LookupCache(ctx, key); err != nil {
		lg.Warn("cache lookup failed", slog.Any("error", err))
	} else if ok {
		lg.Debug("chat served from cache", slog.String("key", key))
		return cached, nil
	}

	reply, err := g.DispatchToCompletionAPI(ctx, msgs, g.cfg.Options)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if err := g.StoreCache(ctx, key, reply); err != nil {
		lg.Warn("cache store failed", slog.Any("error", err))
	}
	return reply, nil
}

// CheckAndConsumeRateLimit consumes one unit of quota for sourceID.
func (g *Gatekeeper) CheckAndConsumeRateLimit(ctx context.Context, sourceID string) (bool, time.Duration, error) {
	if g.limiter == nil {
		return true, 0, nil
	}
	allowed, retryAfter, err := g.limiter.Allow(ctx, sourceID)
	if err != nil {
		return false, 0, fmt.Errorf("op=usecase.CheckAndConsumeRateLimit: %w", err)
	}
	return allowed, retryAfter, nil
}

// LookupCache returns a still-valid cached reply for key.
func (g *Gatekeeper) LookupCache(ctx context.Context, key string) (domain.ChatMessage, bool, error) {
	return g.cache.Lookup(ctx, key)
}

// StoreCache records reply under key.
func (g *Gatekeeper) StoreCache(ctx context.Context, key string, reply domain.ChatMessage) error {
	return g.cache.Store(ctx, key, reply)
}

// DispatchToCompletionAPI prepends the persona and calls the upstream client
// under the configured deadline. Exceeding it cancels the in-flight call.
func (g *Gatekeeper) DispatchToCompletionAPI(ctx context.Context, msgs []domain.ChatMessage, opts domain.CompletionOptions) (domain.ChatMessage, error) {
	if g.client == nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: op=usecase.Dispatch: no completion client", domain.ErrUpstreamUnavailable)
	}
	all := make([]domain.ChatMessage, 0, len(msgs)+1)
	all = append(all, domain.ChatMessage{Role: domain.RoleSystem, Content: Persona})
	all = append(all, msgs...)

	callCtx := ctx
	if g.cfg.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.UpstreamTimeout)
		defer cancel()
	}
	reply, err := g.client.Complete(callCtx, all, opts)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return domain.ChatMessage{}, fmt.Errorf("op=usecase.Dispatch: %w", err)
	}
	if reply.Content == "" {
		return domain.ChatMessage{}, fmt.Errorf("op=usecase.Dispatch: %w", domain.ErrUpstreamEmpty)
	}
	if reply.Role == "" {
		reply.Role = domain.RoleAssistant
	}
	return reply, nil
}

func (g *Gatekeeper) checkPromptBudget(msgs []domain.ChatMessage) error {
	if g.tokens == nil || g.cfg.MaxPromptTokens <= 0 {
		return nil
	}
	n := g.tokens.CountOrEstimate(msgs, g.cfg.Options.Model)
	if n > g.cfg.MaxPromptTokens {
		return fmt.Errorf("%w: conversation is too long (%d tokens, max %d)", domain.ErrInvalidArgument, n, g.cfg.MaxPromptTokens)
	}
	return nil
}
