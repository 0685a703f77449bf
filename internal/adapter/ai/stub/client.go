// Package stub provides a deterministic completion client for smoke
// deployments and tests.
package stub

import (
	"context"
	"time"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/domain"
)

// Greeting is the reply returned for every conversation.
const Greeting = "Bonjour! Je suis l'assistant statique de l'annuaire des entreprises de Sudbury. " +
	"Cette réponse provient d'une fonction dédiée pour tester le déploiement. " +
	"Comment puis-je vous aider aujourd'hui?"

// Client always answers with Greeting. It never calls the network.
type Client struct{}

func New() *Client { return &Client{} }

// Complete returns Greeting unless ctx is already done.
func (c *Client) Complete(ctx context.Context, _ []domain.ChatMessage, _ domain.CompletionOptions) (domain.ChatMessage, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCompletion("static", "timeout", time.Since(start))
		return domain.ChatMessage{}, domain.ErrUpstreamTimeout
	}
	observability.ObserveCompletion("static", "ok", time.Since(start))
	return domain.ChatMessage{Role: domain.RoleAssistant, Content: Greeting}, nil
}
