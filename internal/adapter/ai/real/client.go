// Package real implements domain.CompletionClient against an OpenAI-compatible
// chat completions API.
package real

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
	"github.com/intelletix/sudbury-directory/internal/config"
	"github.com/intelletix/sudbury-directory/internal/domain"
)

const providerName = "openai"

// Client calls the chat completions endpoint through go-openai.
type Client struct {
	api        *openai.Client
	configured bool
}

// New builds a client from cfg. Requests carry trace context through
// observability.TracedTransport. Deadlines come from the caller's ctx.
func New(cfg config.Config) *Client {
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Transport: observability.TracedTransport(http.DefaultTransport)}
	return &Client{
		api:        openai.NewClientWithConfig(oc),
		configured: cfg.OpenAIConfigured(),
	}
}

// Complete sends the conversation and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.CompletionOptions) (domain.ChatMessage, error) {
	if !c.configured {
		return domain.ChatMessage{}, fmt.Errorf("%w: op=real.Complete: api key not configured", domain.ErrUpstreamUnavailable)
	}
	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		mapped := mapError(ctx, err)
		observability.ObserveCompletion(providerName, outcomeOf(mapped), time.Since(start))
		slog.Warn("completion request failed",
			slog.String("model", opts.Model),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
		return domain.ChatMessage{}, mapped
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		observability.ObserveCompletion(providerName, "empty", time.Since(start))
		return domain.ChatMessage{}, fmt.Errorf("%w: op=real.Complete", domain.ErrUpstreamEmpty)
	}
	observability.ObserveCompletion(providerName, "ok", time.Since(start))
	slog.Debug("completion ok",
		slog.String("model", resp.Model),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))

	msg := resp.Choices[0].Message
	role := domain.Role(msg.Role)
	if !role.Valid() {
		role = domain.RoleAssistant
	}
	return domain.ChatMessage{Role: role, Content: msg.Content}, nil
}

// mapError folds transport and API failures onto the domain sentinels.
func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: op=real.Complete: %v", domain.ErrUpstreamTimeout, err)
	}
	if status := statusOf(err); status != 0 {
		switch {
		case status == http.StatusTooManyRequests:
			return fmt.Errorf("%w: op=real.Complete: %v", domain.ErrUpstreamRateLimit, err)
		case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: op=real.Complete: %v", domain.ErrUpstreamTimeout, err)
		default:
			return fmt.Errorf("%w: op=real.Complete: status %d: %v", domain.ErrUpstreamFailure, status, err)
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return fmt.Errorf("%w: op=real.Complete: %v", domain.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("%w: op=real.Complete: %v", domain.ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("%w: op=real.Complete: %v", domain.ErrUpstreamFailure, err)
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "rate_limited"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
